package protocol

import (
	"errors"
	"fmt"

	"github.com/getstubd/stubd/pkg/util"
)

// Request is a protocol-normalized request. Keys are protocol-defined
// ("method", "path", "headers", "body" for HTTP; "data" for TCP) plus the
// common "requestFrom" client identity. Map-backed so recording, cloning and
// predicate matching stay protocol-agnostic.
type Request map[string]any

// Clone returns a structurally independent copy of the request.
func (r Request) Clone() Request {
	return Request(util.CloneMap(map[string]any(r)))
}

// Response is a protocol-normalized response, produced by a Server's Respond
// from the matched stub. May be nil when the protocol answers out-of-band.
type Response map[string]any

// ErrorDetails is the structured form of a request-processing failure,
// passed to the protocol's error handler so it can answer with a
// protocol-appropriate error response.
type ErrorDetails struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// RequestError is an error carrying structured details. Protocol
// implementations return it from ParseRequest or Respond when they want the
// error handler to receive a specific code/message payload.
type RequestError struct {
	Code    string
	Message string
	Fields  map[string]any
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Code + ": " + e.Message
}

// DetailsFromError extracts structured details from an error, unwrapping to
// a RequestError when one is present anywhere in the chain.
func DetailsFromError(err error) *ErrorDetails {
	var re *RequestError
	if errors.As(err, &re) {
		return &ErrorDetails{Code: re.Code, Message: re.Message, Fields: re.Fields}
	}
	return &ErrorDetails{Code: "error", Message: err.Error()}
}

// DetailsFromPanic converts a recovered panic value into structured details.
func DetailsFromPanic(v any) *ErrorDetails {
	if err, ok := v.(error); ok {
		d := DetailsFromError(err)
		d.Code = "panic"
		return d
	}
	return &ErrorDetails{Code: "panic", Message: fmt.Sprint(v)}
}
