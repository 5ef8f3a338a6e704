// Package response defines the error body shape shared by all
// endpoints. Successful responses return their resource directly; only
// errors are wrapped, with the message under "detail" so clients can
// surface it verbatim.
package response

// ErrorBody carries a human-readable error message.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// Error wraps a message in the standard error body.
func Error(detail string) ErrorBody {
	return ErrorBody{Detail: detail}
}
