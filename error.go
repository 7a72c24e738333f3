// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package manuscript

import "fmt"

// Code identifies a workflow failure.
type Code string

const (
	CodeEmptyContent          Code = "EMPTY_CONTENT"
	CodeEncryption            Code = "ENCRYPTION"
	CodeChainMismatch         Code = "CHAIN_MISMATCH"
	CodeSubmissionFailed      Code = "SUBMISSION_FAILED"
	CodeDecryptionIncomplete  Code = "DECRYPTION_INCOMPLETE"
	CodeNotReady              Code = "NOT_READY"
	CodeNoContract            Code = "NO_CONTRACT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeNotAuthor             Code = "NOT_AUTHOR"
	CodeAuthorizationDeclined Code = "AUTHORIZATION_DECLINED"
	CodeDecryptionFailed      Code = "DECRYPTION_FAILED"
)

var (
	ErrEmptyContent          = &Error{Code: CodeEmptyContent}
	ErrEncryption            = &Error{Code: CodeEncryption}
	ErrChainMismatch         = &Error{Code: CodeChainMismatch}
	ErrSubmissionFailed      = &Error{Code: CodeSubmissionFailed}
	ErrDecryptionIncomplete  = &Error{Code: CodeDecryptionIncomplete}
	ErrNotReady              = &Error{Code: CodeNotReady}
	ErrNoContract            = &Error{Code: CodeNoContract}
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrNotAuthor             = &Error{Code: CodeNotAuthor}
	ErrAuthorizationDeclined = &Error{Code: CodeAuthorizationDeclined}
	ErrDecryptionFailed      = &Error{Code: CodeDecryptionFailed}
)

// Error is a workflow failure with a stable code and the message shown to
// the user.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// holds regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
