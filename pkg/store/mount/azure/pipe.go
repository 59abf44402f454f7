package azure

import (
	"context"
	"errors"
	"io"
)

var errAborted = errors.New("upload aborted")

// pipeWriter adapts a reader-consuming upload into a store.Writer.
type pipeWriter struct {
	pw       *io.PipeWriter
	result   chan error
	cancel   context.CancelFunc
	revision string
	finished bool
}

func startPipe(ctx context.Context, revision string, upload func(context.Context, io.Reader) error) *pipeWriter {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &pipeWriter{pw: pw, result: make(chan error, 1), cancel: cancel, revision: revision}
	go func() {
		err := upload(ctx, pr)
		// Unblock a writer stuck on a failed upload.
		pr.CloseWithError(err)
		w.result <- err
	}()
	return w
}

func (w *pipeWriter) Write(b []byte) (int, error) {
	return w.pw.Write(b)
}

func (w *pipeWriter) Commit(_ context.Context) (string, error) {
	if w.finished {
		return "", errors.New("azure mount: writer already finished")
	}
	w.finished = true
	defer w.cancel()
	_ = w.pw.Close()
	if err := <-w.result; err != nil {
		return "", err
	}
	return w.revision, nil
}

func (w *pipeWriter) Abort() error {
	if w.finished {
		return nil
	}
	w.finished = true
	_ = w.pw.CloseWithError(errAborted)
	w.cancel()
	<-w.result
	return nil
}
