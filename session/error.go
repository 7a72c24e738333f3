// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package session

import "fmt"

// Code is a stable, machine readable instance creation failure.
type Code string

const (
	CodeConnectivity    Code = "CONNECTIVITY_ERROR"
	CodeInvalidProvider Code = "INVALID_PROVIDER"
	CodeSDKLoad         Code = "SDK_LOAD_ERROR"
	CodeSDKInit         Code = "SDK_INIT_ERROR"
	CodeAborted         Code = "ABORTED"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrConnectivity    = &Error{Code: CodeConnectivity}
	ErrInvalidProvider = &Error{Code: CodeInvalidProvider}
	ErrSDKLoad         = &Error{Code: CodeSDKLoad}
	ErrSDKInit         = &Error{Code: CodeSDKInit}
	ErrAborted         = &Error{Code: CodeAborted}
)

// Error is returned by CreateInstance.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}
