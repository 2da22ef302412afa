package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type scriptedClient struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	result string
}

func (s *scriptedClient) GenerateContent(_ context.Context, _ Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Response{Text: s.result}, nil
}

func (s *scriptedClient) GetModel(ModelTier) string { return "scripted" }
func (s *scriptedClient) Close() error             { return nil }

type recordingObserver struct {
	attempts []int
	errs     []error
}

func (r *recordingObserver) ObserveLLMCall(_ context.Context, _ string, attempts int, err error) {
	r.attempts = append(r.attempts, attempts)
	r.errs = append(r.errs, err)
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestRetryingClient_SucceedsAfterTransientErrors(t *testing.T) {
	inner := &scriptedClient{
		errs:   []error{errors.New("unavailable"), errors.New("unavailable")},
		result: "report",
	}
	obs := &recordingObserver{}
	client := NewRetryingClient(inner, fastRetry(3), nil, obs)

	resp, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "report", resp.Text)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []int{3}, obs.attempts)
	assert.Nil(t, obs.errs[0])
}

func TestRetryingClient_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	inner := &scriptedClient{errs: []error{boom, boom, boom, boom}}
	client := NewRetryingClient(inner, fastRetry(3), nil, nil)

	_, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingClient_PermanentErrorStopsImmediately(t *testing.T) {
	inner := &scriptedClient{errs: []error{Permanent(errors.New("bad prompt"))}}
	client := NewRetryingClient(inner, fastRetry(3), nil, nil)

	_, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingClient_CancelledContext(t *testing.T) {
	inner := &scriptedClient{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	client := NewRetryingClient(inner, RetryConfig{Attempts: 3, Initial: time.Hour, Max: time.Hour}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.GenerateContent(ctx, Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("x"), true},
		{"canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"permanent", Permanent(errors.New("x")), false},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Initial)
	assert.Equal(t, 30*time.Second, cfg.Max)
}
