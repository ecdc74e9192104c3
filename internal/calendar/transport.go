package calendar

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// checkRetry retries 429 and 5xx responses. Transport errors and a done
// context end the call.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		return false, err
	}
	return retryable(resp.StatusCode), nil
}

// linearBackoff waits step, 2*step, 3*step... between attempts.
func linearBackoff(step, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	return step * time.Duration(attemptNum+1)
}

// newRetryTransport wraps base so that each attempt gets its own timeout and
// failed attempts are retried up to maxAttempts in total. The last response
// is handed back as is so googleapi can decode the error body.
func newRetryTransport(base http.RoundTripper, maxAttempts int, step, timeout time.Duration, logger *slog.Logger) http.RoundTripper {
	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: &attemptTimeout{base: base, timeout: timeout}}
	client.RetryMax = maxAttempts - 1
	client.RetryWaitMin = step
	client.RetryWaitMax = step * time.Duration(maxAttempts)
	client.CheckRetry = checkRetry
	client.Backoff = linearBackoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if logger != nil {
		client.Logger = logger
	}
	return &retryablehttp.RoundTripper{Client: client}
}

// attemptTimeout bounds a single attempt.
type attemptTimeout struct {
	base    http.RoundTripper
	timeout time.Duration
}

func (t *attemptTimeout) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.base.RoundTrip(req.Clone(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the attempt's timeout once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
