package territory

import (
	"errors"
	"fmt"
)

// Code is a business failure code surfaced verbatim to callers.
type Code string

// Arbitration failure codes. Each maps to the sentinel of the same name below.
const (
	CodeAlreadyClaimed     Code = "ALREADY_CLAIMED"
	CodeGeozoneOutOfBounds Code = "GEOZONE_OUT_OF_BOUNDS"
	CodeNotOwner           Code = "NOT_OWNER"
	CodeNotClaimed         Code = "NOT_CLAIMED"
	CodeStaleWrite         Code = "STALE_WRITE"
	CodeInvalidCell        Code = "INVALID_CELL"
	CodeInvalidCoordinate  Code = "INVALID_COORDINATE"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
)

// Sentinels unwrapped from an *ArbitrationError with the matching Code, for errors.Is.
var (
	ErrAlreadyClaimed     = errors.New("territory: already claimed")
	ErrGeozoneOutOfBounds = errors.New("territory: outside every geozone")
	ErrNotOwner           = errors.New("territory: not owner")
	ErrNotClaimed         = errors.New("territory: not claimed")
	ErrStaleWrite         = errors.New("territory: stale write")
	ErrInvalidCell        = errors.New("territory: invalid cell")
	ErrInvalidCoordinate  = errors.New("territory: invalid coordinate")
	ErrInvalidState       = errors.New("territory: invalid state")
	ErrInvalidRequest     = errors.New("territory: invalid request")

	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("territory: transition conflict")
)

var sentinelByCode = map[Code]error{
	CodeAlreadyClaimed:     ErrAlreadyClaimed,
	CodeGeozoneOutOfBounds: ErrGeozoneOutOfBounds,
	CodeNotOwner:           ErrNotOwner,
	CodeNotClaimed:         ErrNotClaimed,
	CodeStaleWrite:         ErrStaleWrite,
	CodeInvalidCell:        ErrInvalidCell,
	CodeInvalidCoordinate:  ErrInvalidCoordinate,
	CodeInvalidState:       ErrInvalidState,
	CodeInvalidRequest:     ErrInvalidRequest,
}

// ArbitrationError is a typed business outcome. Current carries the record observed when the
// request was rejected, if any.
type ArbitrationError struct {
	Code    Code
	Detail  string
	Current *Record
}

func (e *ArbitrationError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *ArbitrationError) Unwrap() error {
	return sentinelByCode[e.Code]
}

func newArbitrationError(code Code, detail string, current *Record) error {
	return &ArbitrationError{Code: code, Detail: detail, Current: current}
}

// AsArbitrationError extracts an ArbitrationError from err.
func AsArbitrationError(err error) (*ArbitrationError, bool) {
	var arbitrationErr *ArbitrationError
	if errors.As(err, &arbitrationErr) {
		return arbitrationErr, true
	}
	return nil, false
}

// ConflictError is returned by a Store when the stored status differs from the expected one.
type ConflictError struct {
	Expected Status
	Current  Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("territory: expected %s, found %s for cell %s", e.Expected, e.Current.Status, e.Current.CellID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ServiceError reports an infrastructure failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// NewStoreError wraps a storage failure for stores implemented outside this package.
func NewStoreError(operation, reason string, cause error) error {
	return newServiceError(operation, reason, cause)
}
