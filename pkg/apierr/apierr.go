// Package apierr provides structured API error types and the mapping from
// the gateway's error taxonomy to HTTP statuses. Vendor error bodies are
// never forwarded verbatim; clients see a stable, vendor-agnostic shape.
package apierr

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/storyflow/ai-gateway/internal/providers"
)

// ErrorType constants.
const (
	TypeProviderError  = "provider_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeServerError    = "server_error"
)

// Code constants.
const (
	CodeNoProviderAvailable = "no_provider_available"
	CodeUnknownProvider     = "unknown_provider"
	CodeProviderError       = "provider_error"
	CodeRequestTimeout      = "request_timeout"
	CodeInvalidRequest      = "invalid_request"
	CodeInternalError       = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteInvalidRequest writes a 400 for malformed client input.
func WriteInvalidRequest(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadRequest, msg, TypeInvalidRequest, CodeInvalidRequest)
}

// WriteError maps a gateway error to its HTTP shape:
//
//	NoAvailableError → 503
//	NotFoundError    → 404
//	TimeoutError     → 504
//	CallError        → 502 (429 passes through with Retry-After)
//	anything else    → 500
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	var (
		na *providers.NoAvailableError
		nf *providers.NotFoundError
		te *providers.TimeoutError
		ce *providers.CallError
	)

	switch {
	case errors.As(err, &na):
		Write(ctx, fasthttp.StatusServiceUnavailable,
			"no provider available for capability "+string(na.Capability),
			TypeProviderError, CodeNoProviderAvailable)

	case errors.As(err, &nf):
		Write(ctx, fasthttp.StatusNotFound,
			"unknown provider "+nf.ID+" for capability "+string(nf.Capability),
			TypeInvalidRequest, CodeUnknownProvider)

	case errors.As(err, &te):
		Write(ctx, fasthttp.StatusGatewayTimeout,
			"provider request timed out", TypeProviderError, CodeRequestTimeout)

	case errors.As(err, &ce):
		if ce.Status == fasthttp.StatusTooManyRequests {
			ctx.Response.Header.Set("Retry-After", "60")
			Write(ctx, fasthttp.StatusTooManyRequests,
				"provider rate limited the request", TypeProviderError, CodeProviderError)
			return
		}
		Write(ctx, fasthttp.StatusBadGateway,
			"provider call failed", TypeProviderError, CodeProviderError)

	default:
		Write(ctx, fasthttp.StatusInternalServerError,
			"internal error", TypeServerError, CodeInternalError)
	}
}
