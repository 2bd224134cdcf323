package opentosca

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultParallelism = 4
	maxBodyBytes       = 16 << 20
)

// Transport is an HTTP client bound to one container API base URL.
type Transport struct {
	base        *url.URL
	httpClient  *http.Client
	timeout     time.Duration
	parallelism int
}

// Option customises transport instantiation.
type Option func(*Transport)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(t *Transport) {
		if h != nil {
			t.httpClient = h
		}
	}
}

// WithTimeout sets the default per-request timeout. Ignored when WithHTTPClient is used.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithParallelism bounds the number of concurrent requests when following links.
func WithParallelism(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.parallelism = n
		}
	}
}

// Reply is a fully read HTTP response.
type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewTransport constructs a Transport for the given base address.
func NewTransport(address string, opts ...Option) (*Transport, error) {
	base, err := Server{Address: address}.BaseURL()
	if err != nil {
		return nil, err
	}
	t := &Transport{
		base:        base,
		timeout:     defaultTimeout,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.httpClient == nil {
		t.httpClient = &http.Client{Timeout: t.timeout}
	}
	return t, nil
}

// Base returns a copy of the base URL.
func (t *Transport) Base() string {
	return t.base.String()
}

// Parallelism reports the configured link-following concurrency.
func (t *Transport) Parallelism() int {
	return t.parallelism
}

// Endpoint joins escaped path segments onto the base URL.
func (t *Transport) Endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, seg := range segments {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return t.base.JoinPath(escaped...).String()
}

// Resolve turns a ref into an absolute URL. Absolute refs are returned verbatim;
// relative refs are appended to the base path.
func (t *Transport) Resolve(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	trimmed := strings.Trim(ref, "/")
	if trimmed == "" {
		return t.base.String()
	}
	return t.Endpoint(strings.Split(trimmed, "/")...)
}

// PostMultipart streams content as a single form-data part named field.
func (t *Transport) PostMultipart(ctx context.Context, ref, field, fileName string, content io.Reader) (Reply, error) {
	target := t.Resolve(ref)
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, fileName))
		header.Set("Content-Type", "application/octet-stream")
		part, err := mw.CreatePart(header)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()
	defer func() {
		pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = -1
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return t.do(req)
}

// Delete issues a DELETE against ref.
func (t *Transport) Delete(ctx context.Context, ref string) (Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.Resolve(ref), nil)
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	return t.do(req)
}

// GetRaw issues a GET with the given Accept header and returns the reply whatever its status.
func (t *Transport) GetRaw(ctx context.Context, ref, accept string) (Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Resolve(ref), nil)
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return t.do(req)
}

// GetXML fetches ref and decodes the XML body into v. Only 200 is accepted.
func (t *Transport) GetXML(ctx context.Context, ref string, v any) error {
	reply, err := t.GetRaw(ctx, ref, "application/xml")
	if err != nil {
		return err
	}
	target := t.Resolve(ref)
	if reply.StatusCode != http.StatusOK {
		return &RejectedError{Op: http.MethodGet, URL: target, StatusCode: reply.StatusCode}
	}
	if err := xml.Unmarshal(reply.Body, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidResponse, target, err)
	}
	return nil
}

func (t *Transport) do(req *http.Request) (Reply, error) {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Redacted(), ErrUnreachable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("%s %s: read body: %w: %w", req.Method, req.URL.Redacted(), ErrUnreachable, err)
	}
	return Reply{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// FetchLinked GETs every link and decodes it as T. Results keep link order; the
// first failure cancels outstanding requests and no partial result is returned.
func FetchLinked[T any](ctx context.Context, t *Transport, links []Link, parallelism int) ([]T, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	results := make([]T, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, link := range links {
		g.Go(func() error {
			var item T
			if err := t.GetXML(gctx, link.Href, &item); err != nil {
				return err
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
