package emulator

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/maxpert/cqnwatch/dpi"
)

// Error codes reported by the server. They follow the numbering of the
// system being emulated so callers can match on familiar values.
const (
	CodeInvalidSQL          int32 = 900
	CodeTableNotFound       int32 = 942
	CodeSQLError            int32 = 604
	CodeNotConnected        int32 = 3114
	CodeInvalidHandle       int32 = 24912
	CodeRegistrationMissing int32 = 29970
	CodeInvalidParameter    int32 = 29972
	CodeUnsupportedQuery    int32 = 29983
	CodeDeliveryFailed      int32 = 24010
)

var ErrServerClosed = errors.New("notification server closed")

func newError(code int32, fn, action, message string) error {
	return dpi.ErrorFromInfo(dpi.NewErrorInfo(code, fn, action, message))
}

// sqlError translates a SQLite failure into the server's error record
func sqlError(fn, action string, err error) error {
	code := CodeSQLError
	msg := err.Error()

	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrError {
		switch {
		case strings.Contains(msg, "no such table"):
			code = CodeTableNotFound
		case strings.Contains(msg, "syntax error"), strings.Contains(msg, "incomplete input"):
			code = CodeInvalidSQL
		}
	}
	if errors.Is(err, errNotAQuery) {
		code = CodeUnsupportedQuery
	}
	return newError(code, fn, action, msg)
}
