// Package s3 mounts an S3 (or S3-compatible) bucket prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/marmos91/wopihost/internal/bytesize"
	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/pkg/store"
)

const (
	// MinPartSize is the smallest multipart part S3 accepts.
	MinPartSize = 5 * bytesize.MiB

	// revisionMeta is stored as x-amz-meta-wopi-revision on every write.
	revisionMeta = "wopi-revision"
)

// Config configures an S3 mount.
type Config struct {
	Bucket          string            `mapstructure:"bucket" validate:"required" yaml:"bucket"`
	Region          string            `mapstructure:"region" yaml:"region"`
	Endpoint        string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string            `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string            `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool              `mapstructure:"force_path_style" yaml:"force_path_style"`
	KeyPrefix       string            `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	PartSize        bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size"`
}

// NewClient builds an S3 client. Static credentials are used when an
// access key is configured, the default AWS chain otherwise.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}), nil
}

// Provider serves objects below a key prefix of one bucket.
//
// Each write stamps a fresh revision uuid into the object metadata and
// that uuid is the document version. Objects written by other tools fall
// back to their ETag.
type Provider struct {
	client   *s3.Client
	bucket   string
	prefix   string
	partSize int64
}

// New returns a provider for cfg using client. The bucket must exist.
func New(ctx context.Context, client *s3.Client, cfg Config) (*Provider, error) {
	if client == nil {
		return nil, errors.New("s3 mount: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 mount: bucket is required")
	}
	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = MinPartSize
	}
	if partSize < MinPartSize {
		return nil, fmt.Errorf("s3 mount: part size must be at least %s, got %s", MinPartSize, partSize)
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("s3 mount: access bucket %q: %w", cfg.Bucket, err)
	}
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Provider{client: client, bucket: cfg.Bucket, prefix: prefix, partSize: partSize.Int64()}, nil
}

// Type implements mount.Provider.
func (p *Provider) Type() string { return "s3" }

func (p *Provider) key(rel string) string {
	return p.prefix + strings.TrimPrefix(rel, "/")
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func notExist(rel string) error {
	return fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
}

// revisionOf prefers the revision stamp and falls back to the ETag.
func revisionOf(meta map[string]string, etag *string) string {
	for k, v := range meta {
		if strings.EqualFold(k, revisionMeta) && v != "" {
			return v
		}
	}
	return strings.Trim(aws.ToString(etag), `"`)
}

func (p *Provider) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
}

// Stat implements mount.Provider.
func (p *Provider) Stat(ctx context.Context, rel string) (*store.FileStat, error) {
	out, err := p.head(ctx, p.key(rel))
	if err != nil {
		if isNotFound(err) {
			return nil, notExist(rel)
		}
		return nil, fmt.Errorf("head object: %w", err)
	}
	name := path.Base(rel)
	return &store.FileStat{
		Name:     name,
		Size:     aws.ToInt64(out.ContentLength),
		Version:  revisionOf(out.Metadata, out.ETag),
		MimeType: store.MimeTypeOf(name),
		ModTime:  aws.ToTime(out.LastModified).UTC(),
	}, nil
}

// Open implements mount.Provider.
func (p *Provider) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(p.key(rel))})
	if err != nil {
		if isNotFound(err) {
			return nil, notExist(rel)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

// Create implements mount.Provider. Content smaller than the part size
// is sent with a single PutObject; larger content switches to a
// multipart upload as soon as the first part fills.
func (p *Provider) Create(ctx context.Context, rel string) (store.Writer, error) {
	return &writer{
		p:        p,
		ctx:      ctx,
		key:      p.key(rel),
		mimeType: store.MimeTypeOf(path.Base(rel)),
		revision: uuid.NewString(),
	}, nil
}

// copySource escapes bucket/key for x-amz-copy-source.
func (p *Provider) copySource(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
	}
	return p.bucket + "/" + strings.Join(segs, "/")
}

// Move implements mount.Provider with copy and delete. The target check
// and the copy are not atomic; a concurrent writer to the target between
// the two is overwritten.
func (p *Provider) Move(ctx context.Context, from, to string) error {
	src, dst := p.key(from), p.key(to)
	if _, err := p.head(ctx, dst); err == nil {
		return fmt.Errorf("%s: %w", to, fs.ErrExist)
	} else if !isNotFound(err) {
		return fmt.Errorf("head object: %w", err)
	}
	if _, err := p.head(ctx, src); err != nil {
		if isNotFound(err) {
			return notExist(from)
		}
		return fmt.Errorf("head object: %w", err)
	}
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(p.bucket),
		Key:               aws.String(dst),
		CopySource:        aws.String(p.copySource(src)),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(src)}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Healthcheck verifies the bucket is reachable.
func (p *Provider) Healthcheck(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	return err
}

type writer struct {
	p        *Provider
	ctx      context.Context
	key      string
	mimeType string
	revision string

	buf      bytes.Buffer
	uploadID *string
	parts    []types.CompletedPart
	done     bool
}

func (w *writer) metadata() map[string]string {
	return map[string]string{revisionMeta: w.revision}
}

func (w *writer) Write(b []byte) (int, error) {
	if w.done {
		return 0, errors.New("s3 mount: write after commit")
	}
	n, _ := w.buf.Write(b)
	for int64(w.buf.Len()) >= w.p.partSize {
		if err := w.uploadPart(w.p.partSize); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (w *writer) uploadPart(size int64) error {
	if w.uploadID == nil {
		out, err := w.p.client.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(w.p.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String(w.mimeType),
			Metadata:    w.metadata(),
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err)
		}
		w.uploadID = out.UploadId
		logger.Debug("S3 multipart upload started", logger.KeyBucket, w.p.bucket, logger.KeyKey, w.key)
	}

	num := aws.Int32(int32(len(w.parts) + 1))
	out, err := w.p.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.p.bucket),
		Key:        aws.String(w.key),
		UploadId:   w.uploadID,
		PartNumber: num,
		Body:       bytes.NewReader(w.buf.Next(int(size))),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", *num, err)
	}
	w.parts = append(w.parts, types.CompletedPart{ETag: out.ETag, PartNumber: num})
	return nil
}

func (w *writer) Commit(ctx context.Context) (string, error) {
	if w.done {
		return "", errors.New("s3 mount: writer already finished")
	}
	w.done = true

	if w.uploadID == nil {
		_, err := w.p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.p.bucket),
			Key:           aws.String(w.key),
			Body:          bytes.NewReader(w.buf.Bytes()),
			ContentLength: aws.Int64(int64(w.buf.Len())),
			ContentType:   aws.String(w.mimeType),
			Metadata:      w.metadata(),
		})
		if err != nil {
			return "", fmt.Errorf("put object: %w", err)
		}
		return w.revision, nil
	}

	if w.buf.Len() > 0 {
		if err := w.uploadPart(int64(w.buf.Len())); err != nil {
			w.abortUpload()
			return "", err
		}
	}
	_, err := w.p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.p.bucket),
		Key:             aws.String(w.key),
		UploadId:        w.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.abortUpload()
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}
	return w.revision, nil
}

func (w *writer) abortUpload() {
	if w.uploadID == nil {
		return
	}
	_, err := w.p.client.AbortMultipartUpload(context.WithoutCancel(w.ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.p.bucket),
		Key:      aws.String(w.key),
		UploadId: w.uploadID,
	})
	if err != nil {
		logger.Warn("S3 multipart abort failed", logger.KeyBucket, w.p.bucket, logger.KeyKey, w.key, logger.Err(err))
	}
}

func (w *writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.buf.Reset()
	w.abortUpload()
	return nil
}
