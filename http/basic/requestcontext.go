package basic

import (
	"context"

	httpx "restaurant/http"
)

type requestIDKey struct{}

// RequestContext httpx.IRequestContext 的实现
type RequestContext struct{ context.Context }

func NewRequestContext(ctx context.Context) httpx.IRequestContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RequestContext{Context: ctx}
}

func (r *RequestContext) GetRequestID() string {
	id, _ := r.Value(requestIDKey{}).(string)
	return id
}

func (r *RequestContext) GetCorrelationID() string { return httpx.GetCorrelationID(r.Context) }

// WithRequestID 记录请求 ID，同时作为关联 ID 随订单事件传给厨房
func WithRequestID(ctx context.Context, requestID string) httpx.IRequestContext {
	next := context.WithValue(ctx, requestIDKey{}, requestID)
	return &RequestContext{Context: httpx.WithCorrelationID(next, requestID)}
}
