// Package dispatcher sends chat requests to the upstream resolved by an
// EffectiveConfig, handling retry-on-429, timeouts, and error mapping
// (spec §4.6). Grounded in the teacher's five-step HTTP flow
// (translate, serialize, authenticate, call, parse) shared by
// AnthropicProvider.ChatCompletion and GoogleProvider.ChatCompletion,
// generalized over the Dialect interface instead of one method pair
// per provider.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coreseekdev/emx-llm/internal/dialect"
	"github.com/coreseekdev/emx-llm/internal/errs"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/resolver"
	"github.com/coreseekdev/emx-llm/internal/usage"
)

// maxAttempts is the initial attempt plus the 3 additional retries the
// spec allows on HTTP 429 (spec §4.6, property 6: ≤ 4 requests total).
const maxAttempts = 4

// retryDelays are the exponential-backoff sleeps between attempts —
// 1s, 2s, 4s (base 2), applied before attempts 2, 3, and 4.
var retryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Client dispatches chat and chat_stream operations over a shared
// *http.Client — one connection pool per process is the recommended
// discipline (spec §5).
type Client struct {
	HTTP *http.Client
}

// New returns a Client using http.DefaultClient when hc is nil.
func New(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{HTTP: hc}
}

// Chat sends a non-streaming request and returns the reply text and
// usage (spec §4.6 chat operation). The EffectiveConfig's timeout
// bounds the whole call, including any retry sleeps.
func (c *Client) Chat(ctx context.Context, ec resolver.EffectiveConfig, msgs []message.Message) (string, usage.Usage, error) {
	dial := dialect.ForKind(ec.Kind)

	resp, err := c.Send(ctx, dial, ec, msgs, false)
	if err != nil {
		return "", usage.Usage{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", usage.Usage{}, errs.Network(err)
	}

	if resp.StatusCode >= 400 {
		return "", usage.Usage{}, errs.Provider(resp.StatusCode, string(raw))
	}

	return dial.ParseResponse(raw)
}

// ChatStream sends a streaming request and returns a lazy sequence of
// StreamEvents (spec §4.6 chat_stream operation).
func (c *Client) ChatStream(ctx context.Context, ec resolver.EffectiveConfig, msgs []message.Message) (<-chan dialect.StreamEvent, error) {
	dial := dialect.ForKind(ec.Kind)

	resp, err := c.Send(ctx, dial, ec, msgs, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, errs.Provider(resp.StatusCode, string(raw))
	}

	return dial.ParseStream(ctx, resp.Body), nil
}

// Send performs the raw HTTP exchange for dial/ec/msgs (with retry on
// 429) and returns the *http.Response unconsumed — the caller owns and
// must close resp.Body. Chat and ChatStream build on Send for the CLI's
// parsed-result use case; the gateway uses Send directly so it can pass
// the upstream body through byte-for-byte (spec §4.8, §6 wire
// compatibility) instead of re-encoding a parsed result.
//
// For a non-streaming call, ctx is bounded by ec.Timeout for the whole
// exchange — including the body download, not just the round trip to
// headers. That only holds if the deadline outlives Send's own return:
// the returned resp.Body is wrapped so the deadline is torn down on
// Close, once the caller has actually finished reading, rather than the
// instant Send returns. For a streaming call, ec.Timeout bounds only
// request-to-first-byte: once headers are in, the returned response's
// body is free to be read under the caller's own ctx, uncapped by this
// dispatch's timeout (spec §4.6); the same wrapping just releases the
// connect timer's resources at Close instead of leaking it.
func (c *Client) Send(ctx context.Context, dial dialect.Dialect, ec resolver.EffectiveConfig, msgs []message.Message, stream bool) (*http.Response, error) {
	body, err := dial.BuildBody(ec, msgs, stream)
	if err != nil {
		return nil, err
	}

	if !stream {
		ctx, cancel := context.WithTimeout(ctx, ec.Timeout)
		resp, err := c.doWithRetry(ctx, dial, ec, body)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = cancelOnClose(resp.Body, cancel)
		return resp, nil
	}

	// reqCtx is cancelled either by the caller's own ctx, or by the
	// connect timer below if no response arrives within ec.Timeout.
	// Once the timer is stopped (response received in time), reqCtx's
	// only remaining cancellation source is ctx itself.
	reqCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(ec.Timeout, cancel)

	resp, err := c.doWithRetry(reqCtx, dial, ec, body)
	fired := !timer.Stop()

	if err != nil {
		cancel()
		if fired && ctx.Err() == nil {
			return nil, errs.Timeout(reqCtx.Err())
		}
		return nil, err
	}

	resp.Body = cancelOnClose(resp.Body, cancel)
	return resp, nil
}

// cancelOnClose wraps body so Close releases cancel's context exactly
// once the caller is done reading — cancel is a context.CancelFunc and
// is safe to invoke more than once, so calling it again when a timer or
// error path already did is a no-op.
func cancelOnClose(body io.ReadCloser, cancel context.CancelFunc) io.ReadCloser {
	return &cancelCloser{ReadCloser: body, cancel: cancel}
}

type cancelCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// doWithRetry issues the request, retrying up to maxAttempts-1 more
// times on HTTP 429 with the fixed 1s/2s/4s backoff (spec §4.6). 5xx
// and transport errors are never retried — they surface on the first
// attempt (spec §9 open question (b): fixed as no-retry for 5xx).
func (c *Client) doWithRetry(ctx context.Context, dial dialect.Dialect, ec resolver.EffectiveConfig, body []byte) (*http.Response, error) {
	url := dial.BuildURL(ec.APIBase)
	headers := dial.BuildHeaders(ec.APIKey)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header = headers.Clone()

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errs.Timeout(ctx.Err())
			}
			return nil, errs.Network(err)
		}

		if resp.StatusCode != http.StatusTooManyRequests || attempt == maxAttempts-1 {
			return resp, nil
		}

		resp.Body.Close()
		if !sleep(ctx, retryDelays[attempt]) {
			return nil, errs.Timeout(ctx.Err())
		}
	}

	// Unreachable: the loop always returns by the last iteration.
	return nil, errs.Network(fmt.Errorf("retry loop exhausted without a response"))
}

// sleep waits d, returning false if ctx is done first — satisfying the
// design note that cancellation during a retry sleep aborts before the
// next attempt (spec §5).
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
