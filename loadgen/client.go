package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"restaurant/errors"
	httpx "restaurant/http"
)

// result 一次 HTTP 调用（含重试）的最终结果
type result struct {
	status  int
	data    json.RawMessage
	code    string
	latency time.Duration
	retries int
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// call 发送请求；503 按同一个幂等键重试
func (r *Runner) call(ctx context.Context, method, path string, body any, idemKey string) (result, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return result{}, errors.WrapError(err, errors.ErrCodeInvalidInput, "failed to encode request")
		}
		payload = b
	}

	var res result
	for attempt := 0; ; attempt++ {
		start := time.Now()
		status, env, err := r.do(ctx, method, path, payload, idemKey)
		r.stats.observe(status, time.Since(start))
		if err != nil {
			return res, err
		}
		res = result{status: status, data: env.Data, code: env.Code, latency: time.Since(start), retries: attempt}
		if status != http.StatusServiceUnavailable || attempt >= r.cfg.MaxRetries {
			return res, nil
		}
		r.stats.add(func(c *collector) { c.retries++ })
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(r.cfg.RetryDelay * time.Duration(attempt+1)):
		}
	}
}

func (r *Runner) do(ctx context.Context, method, path string, payload []byte, idemKey string) (int, envelope, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, body)
	if err != nil {
		return 0, envelope{}, errors.WrapError(err, errors.ErrCodeInvalidInput, "failed to build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set(httpx.HeaderIdempotencyKey, idemKey)
	}

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return 0, envelope{}, errors.WrapError(err, errors.ErrCodeServiceUnavailable, fmt.Sprintf("%s %s failed", method, path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, envelope{}, errors.WrapError(err, errors.ErrCodeServiceUnavailable, "failed to read response")
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return resp.StatusCode, envelope{}, errors.WrapError(err, errors.ErrCodeInternal, "unexpected response body")
		}
	}
	return resp.StatusCode, env, nil
}
