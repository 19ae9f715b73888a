package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// RemoteAgent 通过HTTP调用外部决策服务的智能体
// 请求体为Request的JSON，响应体为Opinion的JSON
type RemoteAgent struct {
	id      string
	role    string
	url     string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewRemoteAgent(id, role, url string, timeout time.Duration) *RemoteAgent {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if role == "" {
		role = id
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "consensus-agent-" + id,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &RemoteAgent{
		id:      id,
		role:    role,
		url:     url,
		client:  &http.Client{},
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(50), 10),
		timeout: timeout,
	}
}

func (a *RemoteAgent) ID() string   { return a.id }
func (a *RemoteAgent) Role() string { return a.role }

// statusError 非2xx响应
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("decision service returned %d", e.code)
}

func (a *RemoteAgent) Evaluate(ctx context.Context, req *Request) (*Opinion, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	result, err := a.cb.Execute(func() (interface{}, error) {
		var op *Opinion
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(50*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
		)
		retryErr := r.Do(func() error {
			var callErr error
			op, callErr = a.call(ctx, payload)
			return callErr
		})
		return op, retryErr
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}

	op := result.(*Opinion)
	op.AgentID = a.id
	op.Role = a.role
	switch op.Decision {
	case DecisionApprove, DecisionReject, DecisionConditional:
	default:
		return nil, fmt.Errorf("agent %s: invalid decision %q", a.id, op.Decision)
	}
	return op, nil
}

func (a *RemoteAgent) call(ctx context.Context, payload []byte) (*Opinion, error) {
	tCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(tCtx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, &statusError{code: resp.StatusCode}
	}
	if resp.StatusCode >= 300 {
		return nil, retry.Unrecoverable(&statusError{code: resp.StatusCode})
	}

	var op Opinion
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("解析决策响应失败: %w", err))
	}
	return &op, nil
}
