// Package errors defines Sentinela's typed domain error kinds. Use cases and
// adapters translate these into transport-specific responses (HTTP status
// codes, chat replies) at the boundary.
package errors

import "fmt"

// Kind classifies a domain error for translation at the boundary.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindIllegalState       Kind = "illegal_state"
	KindConflict           Kind = "conflict"
	KindUpstreamTransient  Kind = "upstream_transient"
	KindUpstreamPermanent  Kind = "upstream_permanent"
	KindStorage            Kind = "storage_error"
	KindForbidden          Kind = "forbidden"
)

// Error is a domain error carrying a Kind for boundary translation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func InvalidInput(message string) *Error            { return newErr(KindInvalidInput, message, nil) }
func NotFound(message string) *Error                { return newErr(KindNotFound, message, nil) }
func IllegalState(message string) *Error            { return newErr(KindIllegalState, message, nil) }
func Conflict(message string) *Error                { return newErr(KindConflict, message, nil) }
func UpstreamTransient(message string, err error) *Error {
	return newErr(KindUpstreamTransient, message, err)
}
func UpstreamPermanent(message string, err error) *Error {
	return newErr(KindUpstreamPermanent, message, err)
}
func Storage(message string, err error) *Error { return newErr(KindStorage, message, err) }
func Forbidden(message string) *Error          { return newErr(KindForbidden, message, nil) }

// Is reports whether err is a domain *Error of the given kind.
func Is(err error, kind Kind) bool {
	var de *Error
	if e, ok := err.(*Error); ok {
		de = e
	} else {
		return false
	}
	return de.Kind == kind
}
