package tracing

import (
	"context"

	"github.com/bwise1/quickpoll_api/util/values"
)

// Context identifies a single request as it moves through the service.
type Context struct {
	RequestID     string `json:"request_id"`
	RequestSource string `json:"request_source"`
}

func (tc Context) String() string {
	return tc.RequestSource + "/" + tc.RequestID
}

// With returns a copy of ctx carrying tc.
func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, values.ContextTracingKey, tc)
}

// From returns the tracing context stored in ctx, or the zero Context
// when the request never went through RequestTracing.
func From(ctx context.Context) Context {
	tc, _ := ctx.Value(values.ContextTracingKey).(Context)
	return tc
}
