package core

// error_messages.go defines the pipeline error taxonomy and the codes used in
// logs and the run history table. Every error a pipeline produces wraps one of
// the sentinels below, so callers classify with errors.Is.
//
//	FETCH001 - Fetch timed out
//	FETCH002 - Remote returned a non-2xx status
//	FETCH003 - Network or read failure
//	DOC001   - Document is not well-formed XML
//	DOC002   - Document identifier does not match the configured name
//	DOC003   - Document has no row elements
//	DB001    - A drop/create/insert statement failed and was skipped
//	DB002    - Transaction could not be started or committed
//	CFG001   - Source section has missing or invalid settings
//	RUN002   - Pipeline panicked
//	ERR000   - Anything else

import (
	"context"
	"errors"
	"net"

	"github.com/JonMunkholm/xmlmirror/internal/config"
)

var (
	// ErrFetchFailed wraps network errors, timeouts and non-2xx responses.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrMalformedDocument is returned when the body is not well-formed XML.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrIdentifierMismatch is returned when header/name differs from the expected identifier.
	ErrIdentifierMismatch = errors.New("identifier mismatch")

	// ErrNoRows is returned when a valid document contains no row elements.
	ErrNoRows = errors.New("document has no rows")

	// ErrStatement marks a single drop/create/insert that failed and was skipped.
	ErrStatement = errors.New("statement failed")

	// ErrLoadFailed marks a transaction that could not be started or committed.
	ErrLoadFailed = errors.New("load failed")

	// ErrPanic marks a pipeline that panicked and was recovered.
	ErrPanic = errors.New("pipeline panicked")
)

// ErrorCode is a stable, greppable classification of a pipeline error.
type ErrorCode struct {
	Code    string
	Message string
}

type errorPattern struct {
	match func(error) bool
	code  ErrorCode
}

// errorPatterns is checked in order; the first match wins.
var errorPatterns = []errorPattern{
	{
		match: func(err error) bool { return errors.Is(err, config.ErrInvalidSource) },
		code:  ErrorCode{Code: "CFG001", Message: "Source section has missing or invalid settings"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrPanic) },
		code:  ErrorCode{Code: "RUN002", Message: "Pipeline panicked"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrFetchFailed) && isTimeout(err) },
		code:  ErrorCode{Code: "FETCH001", Message: "Fetch timed out"},
	},
	{
		match: func(err error) bool {
			var fe *FetchError
			return errors.As(err, &fe) && fe.StatusCode != 0
		},
		code: ErrorCode{Code: "FETCH002", Message: "Remote returned a non-2xx status"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrFetchFailed) },
		code:  ErrorCode{Code: "FETCH003", Message: "Network or read failure"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrMalformedDocument) },
		code:  ErrorCode{Code: "DOC001", Message: "Document is not well-formed XML"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrIdentifierMismatch) },
		code:  ErrorCode{Code: "DOC002", Message: "Document identifier does not match"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrNoRows) },
		code:  ErrorCode{Code: "DOC003", Message: "Document has no rows"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrStatement) },
		code:  ErrorCode{Code: "DB001", Message: "Statement failed and was skipped"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrLoadFailed) },
		code:  ErrorCode{Code: "DB002", Message: "Transaction could not be started or committed"},
	},
}

var defaultCode = ErrorCode{Code: "ERR000", Message: "Unexpected error"}

// MapError classifies an error. It returns the zero ErrorCode for nil.
func MapError(err error) ErrorCode {
	if err == nil {
		return ErrorCode{}
	}

	for _, p := range errorPatterns {
		if p.match(err) {
			return p.code
		}
	}

	return defaultCode
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
