// Package azure mounts an Azure Blob Storage container prefix.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/google/uuid"

	"github.com/marmos91/wopihost/pkg/store"
)

// revisionMeta is the blob metadata key carrying the document version.
// Azure metadata names must be C# identifiers, hence no dash.
const revisionMeta = "wopirevision"

// Config configures an Azure Blob mount.
type Config struct {
	Account    string `mapstructure:"account" validate:"required" yaml:"account"`
	AccountKey string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	SASToken   string `mapstructure:"sas_token" yaml:"sas_token,omitempty"`
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Container  string `mapstructure:"container" validate:"required" yaml:"container"`
	Prefix     string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// Provider serves blobs below a prefix of one container.
type Provider struct {
	client    *azblob.Client
	container string
	prefix    string
}

// New builds a client from cfg and checks that the container exists.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}
	if err := p.Healthcheck(ctx); err != nil {
		return nil, fmt.Errorf("azure mount: container %q: %w", cfg.Container, err)
	}
	return p, nil
}

func newClient(cfg Config) (*azblob.Client, error) {
	if cfg.Account == "" {
		return nil, errors.New("azure mount: account is required")
	}
	if cfg.Container == "" {
		return nil, errors.New("azure mount: container is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	if cfg.SASToken != "" {
		withSAS, err := appendSASToken(endpoint, cfg.SASToken)
		if err != nil {
			return nil, err
		}
		return azblob.NewClientWithNoCredential(withSAS, nil)
	}
	if cfg.AccountKey == "" {
		return nil, errors.New("azure mount: account key or SAS token required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure mount: build credentials: %w", err)
	}
	return azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure mount: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery += "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}

// Type implements mount.Provider.
func (p *Provider) Type() string { return "azure" }

func (p *Provider) blobName(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if p.prefix == "" {
		return rel
	}
	return p.prefix + "/" + rel
}

func (p *Provider) containerClient() *container.Client {
	return p.client.ServiceClient().NewContainerClient(p.container)
}

func statusOf(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func isNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// isExists reports a failed IfNoneMatch("*") condition.
func isExists(err error) bool {
	s := statusOf(err)
	return s == http.StatusConflict || s == http.StatusPreconditionFailed
}

func revisionOf(meta map[string]*string, etag *azcore.ETag) string {
	for k, v := range meta {
		if strings.EqualFold(k, revisionMeta) && v != nil && *v != "" {
			return *v
		}
	}
	if etag == nil {
		return ""
	}
	return strings.Trim(string(*etag), `"`)
}

// Stat implements mount.Provider.
func (p *Provider) Stat(ctx context.Context, rel string) (*store.FileStat, error) {
	props, err := p.containerClient().NewBlobClient(p.blobName(rel)).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get blob properties: %w", err)
	}
	name := path.Base(rel)
	st := &store.FileStat{
		Name:     name,
		Version:  revisionOf(props.Metadata, props.ETag),
		MimeType: store.MimeTypeOf(name),
	}
	if props.ContentLength != nil {
		st.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		st.ModTime = props.LastModified.UTC()
	}
	return st, nil
}

// Open implements mount.Provider.
func (p *Provider) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	resp, err := p.client.DownloadStream(ctx, p.container, p.blobName(rel), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("download blob: %w", err)
	}
	return resp.Body, nil
}

// Create implements mount.Provider. Bytes are piped into UploadStream,
// which stages blocks and commits the block list only once the stream
// ends cleanly; an aborted upload leaves the previous content in place.
func (p *Provider) Create(ctx context.Context, rel string) (store.Writer, error) {
	name := p.blobName(rel)
	revision := uuid.NewString()
	opts := &azblob.UploadStreamOptions{
		Metadata: map[string]*string{revisionMeta: to.Ptr(revision)},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(store.MimeTypeOf(path.Base(rel))),
		},
	}
	upload := func(ctx context.Context, r io.Reader) error {
		_, err := p.client.UploadStream(ctx, p.container, name, r, opts)
		return err
	}
	return startPipe(ctx, revision, upload), nil
}

// Move implements mount.Provider with a conditional server-side copy
// followed by a delete of the source.
func (p *Provider) Move(ctx context.Context, fromPath, toPath string) error {
	cc := p.containerClient()
	src := cc.NewBlobClient(p.blobName(fromPath))
	if _, err := src.GetProperties(ctx, nil); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", fromPath, fs.ErrNotExist)
		}
		return fmt.Errorf("get blob properties: %w", err)
	}

	dst := cc.NewBlobClient(p.blobName(toPath))
	_, err := dst.CopyFromURL(ctx, src.URL(), &blob.CopyFromURLOptions{
		BlobAccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	})
	if err != nil {
		if isExists(err) {
			return fmt.Errorf("%s: %w", toPath, fs.ErrExist)
		}
		return fmt.Errorf("copy blob: %w", err)
	}
	if _, err := src.Delete(ctx, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Healthcheck verifies the container is reachable.
func (p *Provider) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := p.containerClient().GetProperties(ctx, nil)
	return err
}
