package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sandboxfirst/uom/log"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return APIError{msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPTooManyRequests(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusTooManyRequests, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) APIError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}

// Special wrapper for errors that should never be retried - the
// "stage_fatal" and "validation_failed" kinds of a job's error log.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// IsUnretriable reports whether err (or something it wraps) was marked
// unretriable.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	// every not found is unretriable
	return Unretriable(ObjectNotFoundError{msg: msg, cause: cause})
}

// IsObjectNotFound checks if the error is an ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}

// BreakerOpenError is returned by a client call when the service's circuit
// breaker was already open, so the call fast-failed without ever reaching
// the network. It maps onto the "breaker_open" error kind.
type BreakerOpenError struct {
	Service string
}

func (e BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for service %q", e.Service)
}

func NewBreakerOpenError(service string) error {
	return BreakerOpenError{Service: service}
}

// IsBreakerOpen reports whether err was caused by an open circuit breaker.
func IsBreakerOpen(err error) bool {
	return errors.As(err, &BreakerOpenError{})
}

// TimeoutError maps onto the "timeout" error kind - a stage or client call
// exceeded its deadline.
type TimeoutError struct {
	Stage string
}

func (e TimeoutError) Error() string {
	if e.Stage == "" {
		return "timed out"
	}
	return fmt.Sprintf("timed out during stage %q", e.Stage)
}

func NewTimeoutError(stage string) error {
	return TimeoutError{Stage: stage}
}

// IsTimeout reports whether err was a TimeoutError.
func IsTimeout(err error) bool {
	return errors.As(err, &TimeoutError{})
}

// GatedBlockError maps onto the "gated_block" error kind: the Dispatch
// Gate or the Decision Engine refused to let a file proceed at all. It is
// always unretriable - resubmitting the same file produces the same
// verdict.
type GatedBlockError struct {
	Reason string
}

func (e GatedBlockError) Error() string {
	return fmt.Sprintf("blocked: %s", e.Reason)
}

func NewGatedBlockError(reason string) error {
	return Unretriable(GatedBlockError{Reason: reason})
}

// IsGatedBlock reports whether err was a GatedBlockError.
func IsGatedBlock(err error) bool {
	return errors.As(err, &GatedBlockError{})
}

// ReviewRequiredError maps onto the "review_required" error kind: the job
// was routed to the manual review queue instead of failing outright.
type ReviewRequiredError struct {
	Reason string
}

func (e ReviewRequiredError) Error() string {
	return fmt.Sprintf("queued for manual review: %s", e.Reason)
}

func NewReviewRequiredError(reason string) error {
	return ReviewRequiredError{Reason: reason}
}

// IsReviewRequired reports whether err was a ReviewRequiredError.
func IsReviewRequired(err error) bool {
	return errors.As(err, &ReviewRequiredError{})
}

// StoragePartialError maps onto the "storage_partial" error kind: one or
// more post-process sinks failed to persist the job's results while
// others succeeded. It is retriable at the sink level, never fatal to the
// job as a whole.
type StoragePartialError struct {
	FailedSinks []string
	cause       error
}

func (e StoragePartialError) Error() string {
	return fmt.Sprintf("storage sinks failed: %s", strings.Join(e.FailedSinks, ", "))
}

func (e StoragePartialError) Unwrap() error {
	return e.cause
}

func NewStoragePartialError(failedSinks []string, cause error) error {
	return StoragePartialError{FailedSinks: failedSinks, cause: cause}
}

// IsStoragePartial reports whether err was a StoragePartialError.
func IsStoragePartial(err error) bool {
	return errors.As(err, &StoragePartialError{})
}

// ValidationFailedError maps onto the "validation_failed" error kind: a
// submission failed magic-byte, size, or filename checks at the Dispatch
// Gate, before any job was created.
type ValidationFailedError struct {
	Reason string
}

func (e ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func NewValidationFailedError(reason string) error {
	return Unretriable(ValidationFailedError{Reason: reason})
}

// IsValidationFailed reports whether err was a ValidationFailedError.
func IsValidationFailed(err error) bool {
	return errors.As(err, &ValidationFailedError{})
}

var (
	UnauthorisedError = errors.New("UnauthorisedError")
	InvalidJWT        = errors.New("InvalidJWTError")
)
