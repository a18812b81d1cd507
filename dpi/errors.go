package dpi

import (
	"fmt"
	"strings"
)

// ErrorInfo is the raw error record the external system attaches to a failed
// call or to a notification whose delivery failed on the server side.
type ErrorInfo struct {
	Code          int32
	Offset        uint16
	Message       *byte
	MessageLength uint32
	FnName        string
	Action        string
	SQLState      string
	IsRecoverable bool
}

// Error is an owned copy of an ErrorInfo. It is returned verbatim for every
// failed external call.
type Error struct {
	Code          int32
	Offset        uint16
	Message       string
	FnName        string
	Action        string
	SQLState      string
	IsRecoverable bool
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Code != 0 {
		fmt.Fprintf(&b, "ORA-%05d: ", e.Code)
	}
	b.WriteString(e.Message)
	if e.FnName != "" {
		fmt.Fprintf(&b, " (%s", e.FnName)
		if e.Action != "" {
			fmt.Fprintf(&b, ": %s", e.Action)
		}
		b.WriteString(")")
	}
	return b.String()
}

// ErrorFromInfo copies a raw error record. The message is copied because the
// record is only valid for the duration of the call that produced it.
func ErrorFromInfo(info *ErrorInfo) *Error {
	if info == nil {
		return nil
	}
	msg := strings.TrimRight(string(Bytes(info.Message, info.MessageLength)), "\n")
	return &Error{
		Code:          info.Code,
		Offset:        info.Offset,
		Message:       msg,
		FnName:        info.FnName,
		Action:        info.Action,
		SQLState:      info.SQLState,
		IsRecoverable: info.IsRecoverable,
	}
}

// NewErrorInfo builds a raw error record. Used by implementations of Conn.
func NewErrorInfo(code int32, fnName, action, message string) *ErrorInfo {
	p, n := RefString(message)
	return &ErrorInfo{
		Code:          code,
		Message:       p,
		MessageLength: n,
		FnName:        fnName,
		Action:        action,
		SQLState:      "HY000",
	}
}
