// Package transfer moves asset bytes over HTTPS: a GET into a local file for
// the source and PUTs of a local file (or a byte range of it) for renditions.
package transfer

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/redact"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/retry"
)

// Deps wires a Client.
type Deps struct {
	// HTTP defaults to a client with a two minute timeout.
	HTTP *http.Client
	// Retry defaults to retry.Disabled().
	Retry   *retry.Policy
	Metrics *telemetry.Metrics
	Log     *logger.Logger
	// Token, when set, authorizes source downloads. Uploads go to
	// presigned URLs and never carry it.
	Token oauth2.TokenSource
}

type Client struct {
	http    *http.Client
	retry   *retry.Policy
	metrics *telemetry.Metrics
	log     *logger.Logger
	token   oauth2.TokenSource
}

func New(d Deps) *Client {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 2 * time.Minute}
	}
	if d.Retry == nil {
		d.Retry = retry.Disabled()
	}
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	return &Client{
		http:    d.HTTP,
		retry:   d.Retry,
		metrics: d.Metrics,
		log:     d.Log.WithComponent("transfer"),
		token:   d.Token,
	}
}

// WithRetry returns a copy of c that uses p.
func (c *Client) WithRetry(p *retry.Policy) *Client {
	cp := *c
	cp.retry = p
	return &cp
}

// Download GETs rawURL into dst, replacing it on every attempt. The response
// body is written verbatim. On failure no partial file is left behind.
func (c *Client) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	const op = "transfer.download"
	var written int64

	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		started := time.Now()
		n, err := c.getOnce(ctx, rawURL, dst)
		c.metrics.TransferAttempt(http.MethodGet, started, err)
		if err != nil {
			c.log.FromContext(ctx).WithURL(rawURL).Warn("download attempt failed",
				"attempt", attempt, "error", errors.GetMessage(err))
			return err
		}
		written = n
		return nil
	})
	if err != nil {
		_ = os.Remove(dst)
		return 0, errors.Wrap(err, op, "")
	}

	c.log.FromContext(ctx).WithURL(rawURL).Debug("source downloaded", "bytes", written)
	return written, nil
}

func (c *Client) getOnce(ctx context.Context, rawURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, retry.Permanent(failure(http.MethodGet, rawURL, 0, err))
	}
	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return 0, retry.Permanent(failure(http.MethodGet, rawURL, 0, err))
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, failure(http.MethodGet, rawURL, 0, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(http.MethodGet, rawURL, resp); err != nil {
		return 0, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, retry.Permanent(failure(http.MethodGet, rawURL, 0, err))
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, failure(http.MethodGet, rawURL, 0, err)
	}
	return n, nil
}

// Upload PUTs length bytes of path starting at offset to rawURL. A negative
// length sends everything from offset to the end of the file. The file is
// reopened on every attempt and never removed.
func (c *Client) Upload(ctx context.Context, rawURL, path string, offset, length int64) error {
	const op = "transfer.upload"

	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		started := time.Now()
		err := c.putOnce(ctx, rawURL, path, offset, length)
		c.metrics.TransferAttempt(http.MethodPut, started, err)
		if err != nil {
			c.log.FromContext(ctx).WithURL(rawURL).Warn("upload attempt failed",
				"attempt", attempt, "error", errors.GetMessage(err))
		}
		return err
	})
	if err != nil {
		return errors.Wrap(err, op, "")
	}
	return nil
}

func (c *Client) putOnce(ctx context.Context, rawURL, path string, offset, length int64) error {
	f, err := os.Open(path)
	if err != nil {
		return retry.Permanent(failure(http.MethodPut, rawURL, 0, err))
	}
	defer f.Close()

	if length < 0 {
		info, err := f.Stat()
		if err != nil {
			return retry.Permanent(failure(http.MethodPut, rawURL, 0, err))
		}
		length = info.Size() - offset
	}

	var body io.Reader = http.NoBody
	if length > 0 {
		body = io.NewSectionReader(f, offset, length)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, body)
	if err != nil {
		return retry.Permanent(failure(http.MethodPut, rawURL, 0, err))
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return failure(http.MethodPut, rawURL, 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return checkStatus(http.MethodPut, rawURL, resp)
}

// checkStatus maps a non-2xx response to a coded failure, permanent unless
// the status is transient.
func checkStatus(method, rawURL string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := failure(method, rawURL, resp.StatusCode, nil)
	if retry.RetryableStatus(resp.StatusCode) {
		return err
	}
	return retry.Permanent(err)
}

func failure(method, rawURL string, status int, cause error) *errors.Error {
	code := errors.CodeDownloadFailed
	if method == http.MethodPut {
		code = errors.CodeUploadFailed
	}

	var e *errors.Error
	if status > 0 {
		e = errors.Newf(code, "%s '%s' failed with status %d", method, rawURL, status).
			WithField(errors.FieldStatus, status)
	} else {
		e = errors.Newf(code, "%s '%s' failed: %v", method, rawURL, cause)
		e.Err = cause
	}
	return e.WithFields(map[string]any{
		errors.FieldMethod: method,
		errors.FieldURL:    RedactURL(rawURL),
	})
}

// RedactURL drops the query and fragment so presigned signatures do not
// reach results.
func RedactURL(raw string) string {
	return redact.URL(raw)
}

// StaticToken returns a token source for a fixed bearer token, or nil when
// token is empty.
func StaticToken(token string) oauth2.TokenSource {
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}
