package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
)

// scriptedClient returns each queued result in order, then repeats the last.
type scriptedClient struct {
	results []result
	calls   int
}

type result struct {
	resp *Response
	err  error
}

func (c *scriptedClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	c.calls++
	r := c.results[i]
	return r.resp, r.err
}

func newTestInvoker(client Client) *Invoker {
	inv := NewInvoker(client, 3, time.Second, zerolog.Nop())
	inv.baseBackoff = time.Millisecond
	return inv
}

func throttled() error {
	return &InvokeError{Kind: KindThrottled, Status: 429, Err: errors.New("rate exceeded")}
}

func timedOut() error {
	return &InvokeError{Kind: KindTimeout, Err: context.DeadlineExceeded}
}

func TestInvokeWithRetrySuccess(t *testing.T) {
	client := &scriptedClient{results: []result{
		{resp: &Response{Content: "ok", Model: "m1"}},
	}}
	inv := newTestInvoker(client)

	resp, err := inv.InvokeWithRetry(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Expected content ok, got %q", resp.Content)
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 call, got %d", client.calls)
	}
}

func TestThrottleRetriesWithBackoffThenSucceeds(t *testing.T) {
	client := &scriptedClient{results: []result{
		{err: throttled()},
		{err: throttled()},
		{resp: &Response{Content: "ok"}},
	}}
	inv := newTestInvoker(client)

	resp, err := inv.InvokeWithRetry(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp == nil || resp.Content != "ok" {
		t.Error("Expected successful response after throttle retries")
	}
	if client.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", client.calls)
	}
}

func TestThrottleExhaustsAfterThreeAttempts(t *testing.T) {
	client := &scriptedClient{results: []result{{err: throttled()}}}
	inv := newTestInvoker(client)

	_, err := inv.InvokeWithRetry(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, apperrors.ErrModelThrottled) {
		t.Errorf("Expected ErrModelThrottled, got %v", err)
	}
	if client.calls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", client.calls)
	}
}

func TestTimeoutRetriesOnceThenSucceeds(t *testing.T) {
	client := &scriptedClient{results: []result{
		{err: timedOut()},
		{resp: &Response{Content: "ok"}},
	}}
	inv := newTestInvoker(client)

	_, err := inv.InvokeWithRetry(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("Expected 2 calls, got %d", client.calls)
	}
}

func TestSecondTimeoutIsFatal(t *testing.T) {
	client := &scriptedClient{results: []result{{err: timedOut()}}}
	inv := newTestInvoker(client)

	_, err := inv.InvokeWithRetry(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, apperrors.ErrModelTimeout) {
		t.Errorf("Expected ErrModelTimeout, got %v", err)
	}
	if client.calls != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", client.calls)
	}
}

func TestAuthErrorNotRetried(t *testing.T) {
	authErr := &InvokeError{Kind: KindAuth, Status: 401}
	client := &scriptedClient{results: []result{{err: authErr}}}
	inv := newTestInvoker(client)

	_, err := inv.InvokeWithRetry(context.Background(), Request{Prompt: "p"})
	if KindOf(err) != KindAuth {
		t.Errorf("Expected auth error, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 call, got %d", client.calls)
	}
}

func TestBadRequestNotRetried(t *testing.T) {
	badErr := &InvokeError{Kind: KindBadRequest, Status: 400, Err: errors.New("schema")}
	client := &scriptedClient{results: []result{{err: badErr}}}
	inv := newTestInvoker(client)

	_, err := inv.InvokeWithRetry(context.Background(), Request{Prompt: "p"})
	if KindOf(err) != KindBadRequest {
		t.Errorf("Expected bad request error, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 call, got %d", client.calls)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{429, KindThrottled},
		{401, KindAuth},
		{403, KindAuth},
		{400, KindBadRequest},
		{422, KindBadRequest},
		{500, KindUnknown},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}

	if KindOf(classifyErr(context.DeadlineExceeded)) != KindTimeout {
		t.Error("Expected deadline expiry to classify as timeout")
	}
}
