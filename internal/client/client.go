// Package client is a Go client for the kvblob HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/kvblob/internal/models"
	"github.com/kilupskalvis/kvblob/internal/objectstore"
	"github.com/kilupskalvis/kvblob/internal/storeerr"
)

// Header names shared with the server.
const (
	headerHash = "X-Hash"
	headerTag  = "X-Kv-Tag"
)

// Client defines the contract for talking to a kvblob server.
type Client interface {
	CreateBucket(ctx context.Context, name string, tags []string) (*models.Bucket, error)
	GetBucket(ctx context.Context, name string) (*models.Bucket, error)

	PutObject(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (*models.Object, error)
	GetObject(ctx context.Context, bucket, key string) (*Object, error)
	DeleteObject(ctx context.Context, bucket, key string) error

	Reconcile(ctx context.Context, dryRun bool) (*objectstore.ReconcileResult, error)
}

// PutOptions are optional upload attributes.
type PutOptions struct {
	// Hash is the declared SHA-256. When empty it is computed from the data.
	Hash        string
	ContentType string
	Tags        []string
}

// Object is a downloaded object. The caller closes Body.
type Object struct {
	Hash        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithAdminToken sets the bearer token sent to /admin endpoints.
func WithAdminToken(token string) Option {
	return func(c *HTTPClient) { c.adminToken = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates an HTTP client for the server at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) bucketURL(bucket string) string {
	return c.baseURL + "/bucket/" + url.PathEscape(bucket)
}

func (c *HTTPClient) objectURL(bucket, key string) string {
	return c.bucketURL(bucket) + "/" + url.PathEscape(key)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateBucket creates a bucket with optional tags.
func (c *HTTPClient) CreateBucket(ctx context.Context, name string, tags []string) (*models.Bucket, error) {
	header := http.Header{}
	for _, t := range tags {
		header.Add(headerTag, t)
	}

	resp, err := c.do(ctx, http.MethodPost, c.bucketURL(name), nil, header)
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	var b models.Bucket
	if err := decodeJSON(resp, &b); err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &b, nil
}

// GetBucket fetches a bucket record.
func (c *HTTPClient) GetBucket(ctx context.Context, name string) (*models.Bucket, error) {
	resp, err := c.do(ctx, http.MethodGet, c.bucketURL(name), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get bucket: %w", err)
	}
	var b models.Bucket
	if err := decodeJSON(resp, &b); err != nil {
		return nil, fmt.Errorf("get bucket: %w", err)
	}
	return &b, nil
}

// PutObject uploads data. The body is a byte slice so the request can be
// replayed by RetryClient.
func (c *HTTPClient) PutObject(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (*models.Object, error) {
	hash := opts.Hash
	if hash == "" {
		hash = objectstore.HashBytes(data)
	}

	header := http.Header{}
	header.Set(headerHash, hash)
	if opts.ContentType != "" {
		header.Set("Content-Type", opts.ContentType)
	}
	for _, t := range opts.Tags {
		header.Add(headerTag, t)
	}

	resp, err := c.do(ctx, http.MethodPut, c.objectURL(bucket, key), bytes.NewReader(data), header)
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	var obj models.Object
	if err := decodeJSON(resp, &obj); err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	obj.Bucket = bucket
	obj.Key = key
	return &obj, nil
}

// GetObject opens an object for reading.
func (c *HTTPClient) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	resp, err := c.do(ctx, http.MethodGet, c.objectURL(bucket, key), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	size := resp.ContentLength
	if v := resp.Header.Get("Content-Length"); v != "" && size < 0 {
		size, _ = strconv.ParseInt(v, 10, 64)
	}
	return &Object{
		Hash:        resp.Header.Get(headerHash),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        size,
		Body:        resp.Body,
	}, nil
}

// DeleteObject removes an object.
func (c *HTTPClient) DeleteObject(ctx context.Context, bucket, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.objectURL(bucket, key), nil, nil)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Reconcile triggers the orphan reconciliation pass on the server.
func (c *HTTPClient) Reconcile(ctx context.Context, dryRun bool) (*objectstore.ReconcileResult, error) {
	u := c.baseURL + "/admin/reconcile?dry_run=" + strconv.FormatBool(dryRun)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.adminToken)

	resp, err := c.do(ctx, http.MethodPost, u, nil, header)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	var result objectstore.ReconcileResult
	if err := decodeJSON(resp, &result); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return &result, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// Is matches storeerr sentinels by the error code, so callers can write
// errors.Is(err, storeerr.ErrHashMismatch) against a remote failure.
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*storeerr.Error)
	if !ok {
		return false
	}
	kind := storeerr.KindFromCode(e.Code)
	return kind.Code() == e.Code && kind == t.Kind
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
