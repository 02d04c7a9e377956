package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/logging"
	"github.com/austindbirch/zekt_action/internal/metrics"
	"github.com/austindbirch/zekt_action/internal/redact"
	"github.com/austindbirch/zekt_action/internal/tracing"
)

const (
	// RegisterRunPath is appended to the configured API base address.
	RegisterRunPath = "/api/zekt/register-run"

	requestIDHeader = "X-Zekt-Request-Id"
	attemptHeader   = "X-Zekt-Attempt"
	repoHeader      = "X-GitHub-Repository"
	runIDHeader     = "X-GitHub-Run-ID"

	maxResponseBytes = 1 << 20
)

// Version is reported in the User-Agent header. Set by ldflags at build time.
var Version = "1.0.0"

// UserAgent identifies this client to the Zekt API.
func UserAgent() string {
	return "zekt-action/" + Version
}

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// SleepFunc waits d between attempts, returning early with ctx's error.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	MaxAttempts int           // total attempts including the first; minimum 1
	BaseDelay   time.Duration // wait before the second attempt
	Timeout     time.Duration // per-attempt timeout; 0 disables it
	HTTPClient  Doer
	Sleep       SleepFunc
	Reporter    logging.Reporter
}

// OptionsFrom derives client options from the run configuration.
func OptionsFrom(cfg config.Config, r logging.Reporter) Options {
	return Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Timeout:     cfg.RequestTimeout,
		Reporter:    r,
	}
}

// Client delivers register-run requests with bounded exponential backoff.
type Client struct {
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	http        Doer
	sleep       SleepFunc
	reporter    logging.Reporter
}

// NewClient inits a Client, filling unset options with defaults
func NewClient(opts Options) *Client {
	c := &Client{
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		timeout:     opts.Timeout,
		http:        opts.HTTPClient,
		sleep:       opts.Sleep,
		reporter:    opts.Reporter,
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.reporter == nil {
		c.reporter = logging.Discard
	}
	return c
}

// MaxBackoff caps a single wait between attempts.
const MaxBackoff = 10 * time.Minute

// Backoff returns the wait before attempt+1: base * 2^(attempt-1), saturating
// at MaxBackoff.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	return min(d, MaxBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type attemptResult struct {
	status     int
	statusText string
	resp       Response
	err        error // transport failure; no response was received
	latency    time.Duration
}

// Send posts req to {endpoint}/api/zekt/register-run. 5xx, 429 and transport
// failures are retried until the attempt budget is spent; any other non-2xx
// status is terminal. A 2xx answer is returned as-is, even when the body
// reports success=false. Attempts never overlap.
func (c *Client) Send(ctx context.Context, endpoint string, req RegisterRunRequest, token string) (Response, error) {
	body, err := req.encode()
	if err != nil {
		return Response{}, fmt.Errorf("encode register-run request: %w", err)
	}
	url := strings.TrimRight(endpoint, "/") + RegisterRunPath
	requestID := uuid.NewString()

	ctx, span := tracing.StartSpan(ctx, "zekt.register_run",
		attribute.Int64("zekt.run_id", req.RunID),
		attribute.String("zekt.step_id", req.StepID),
		attribute.String("zekt.request_id", requestID),
		attribute.String("http.url", url),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		c.reporter.Debugf("Attempt %d/%d: Sending request to %s", attempt, c.maxAttempts, url)

		res, err := c.do(ctx, url, body, token, requestID, attempt, req)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return Response{}, err
		}
		span.SetAttributes(attribute.Int("zekt.attempts", attempt))

		if res.err != nil {
			if ctx.Err() != nil {
				return Response{}, c.fail(ctx, attempt, 0, "canceled", true, "delivery canceled: "+res.err.Error(), res.err)
			}
			reason := classifyReason(res.err, 0)
			metrics.RecordAttempt("retryable", "", res.latency)
			tracing.AddSpanEvent(ctx, "http.network_error",
				attribute.Int("attempt", attempt),
				attribute.String("reason", reason),
			)
			if attempt < c.maxAttempts {
				delay := Backoff(c.baseDelay, attempt)
				c.reporter.Warnf("Network error: %s. Retrying (attempt %d/%d) after %dms...",
					redact.String(res.err.Error()), attempt+1, c.maxAttempts, delay.Milliseconds())
				if err := c.wait(ctx, delay, reason); err != nil {
					return Response{}, c.fail(ctx, attempt, 0, "canceled", true, "delivery canceled: "+err.Error(), err)
				}
				continue
			}
			return Response{}, c.fail(ctx, attempt, 0, reason, true, res.err.Error(), res.err)
		}

		tracing.AddSpanEvent(ctx, "http.response",
			attribute.Int("attempt", attempt),
			attribute.Int("http.status_code", res.status),
			attribute.Int64("http.latency_ms", res.latency.Milliseconds()),
		)
		code := strconv.Itoa(res.status)

		if res.status >= 200 && res.status < 300 {
			metrics.RecordAttempt("delivered", code, res.latency)
			span.SetAttributes(attribute.Int("http.status_code", res.status))
			return res.resp, nil
		}

		msg := res.resp.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d: %s", res.status, res.statusText)
		}
		reason := classifyReason(nil, res.status)

		if IsRetryableStatus(res.status) {
			metrics.RecordAttempt("retryable", code, res.latency)
			if attempt < c.maxAttempts {
				delay := Backoff(c.baseDelay, attempt)
				c.reporter.Warnf("Received %d from API. Retrying (attempt %d/%d) after %dms...",
					res.status, attempt+1, c.maxAttempts, delay.Milliseconds())
				if err := c.wait(ctx, delay, reason); err != nil {
					return Response{}, c.fail(ctx, attempt, res.status, "canceled", true, "delivery canceled: "+err.Error(), err)
				}
				continue
			}
			return Response{}, c.fail(ctx, attempt, res.status, reason, true, msg, nil)
		}

		metrics.RecordAttempt("terminal", code, res.latency)
		return Response{}, c.fail(ctx, attempt, res.status, reason, false, msg, nil)
	}
}

func (c *Client) wait(ctx context.Context, delay time.Duration, reason string) error {
	metrics.RecordRetry(reason)
	tracing.AddSpanEvent(ctx, "delivery.backoff", attribute.String("delay", delay.String()))
	return c.sleep(ctx, delay)
}

func (c *Client) fail(ctx context.Context, attempt, status int, reason string, retryable bool, msg string, cause error) *Error {
	e := &Error{
		Attempt:    attempt,
		HTTPStatus: status,
		Reason:     reason,
		Retryable:  retryable,
		msg:        redact.String(msg),
		err:        cause,
	}
	tracing.SetSpanError(ctx, e)
	return e
}

// do performs one attempt. The returned error is reserved for requests that
// could not even be built; transport failures are reported in the result.
func (c *Client) do(ctx context.Context, url string, body []byte, token, requestID string, attempt int, req RegisterRunRequest) (attemptResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return attemptResult{}, &Error{
			Attempt: attempt,
			Reason:  "invalid_request",
			msg:     redact.String(fmt.Sprintf("build request: %v", err)),
			err:     err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", UserAgent())
	httpReq.Header.Set(requestIDHeader, requestID)
	httpReq.Header.Set(attemptHeader, strconv.Itoa(attempt))
	if req.GitHubContext.Repository != "" {
		httpReq.Header.Set(repoHeader, req.GitHubContext.Repository)
	}
	httpReq.Header.Set(runIDHeader, strconv.FormatInt(req.RunID, 10))
	tracing.InjectHTTPHeaders(ctx, httpReq.Header)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return attemptResult{err: err, latency: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	res := attemptResult{
		status:     resp.StatusCode,
		statusText: statusText(resp),
		latency:    time.Since(start),
	}
	var ok bool
	if readErr == nil {
		res.resp, ok = decodeResponse(raw)
	}
	if !ok {
		res.resp = Response{
			Success: false,
			Error:   fmt.Sprintf("HTTP %d: %s", res.status, res.statusText),
		}
	}
	return res, nil
}

// decodeResponse parses a reply body. A JSON object with mistyped fields
// still yields every field that does decode, so the server's error text
// survives an unexpected run_id or step_id.
func decodeResponse(raw []byte) (Response, bool) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err == nil {
		return resp, true
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Response{}, false
	}
	resp = Response{}
	field := func(name string, dst any) {
		if v, ok := fields[name]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	field("success", &resp.Success)
	field("step_id", &resp.StepID)
	field("message", &resp.Message)
	field("error", &resp.Error)
	if err := json.Unmarshal(fields["run_id"], &resp.RunID); err != nil {
		var s string
		if json.Unmarshal(fields["run_id"], &s) == nil {
			resp.RunID, _ = strconv.ParseInt(s, 10, 64)
		}
	}
	return resp, true
}

func statusText(resp *http.Response) string {
	if t := http.StatusText(resp.StatusCode); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}
