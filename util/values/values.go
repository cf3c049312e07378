package values

type contextKey string

// Response statuses. util.StatusCode maps each one to an HTTP status code.
const (
	Success         = "success"
	Created         = "created"
	Error           = "error"
	BadRequestBody  = "bad-request-body"
	NotAllowed      = "not-allowed"
	Conflict        = "conflict"
	NotFound        = "not-found"
	TooManyRequests = "too-many-requests"
	Unavailable     = "unavailable"
)

// Request headers
const (
	HeaderRequestSource = "X-Request-Source"
	HeaderRequestID     = "X-Request-ID"
	HeaderDeviceID      = "X-Device-ID"
	HeaderRetryAfter    = "Retry-After"
)

const ContextTracingKey contextKey = "tracing"
