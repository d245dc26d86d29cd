package core

import (
	"errors"
	"net/http"
	"strconv"
)

type ErrorCode int

const (
	ErrorCodeInternal ErrorCode = iota
	ErrorCodeValidation
	ErrorCodeNotFound
	// ErrorCodeStorage is used when the storage backend could not load or save a snapshot.
	ErrorCodeStorage
)

type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	Operation string
	// SafeToShow indicates is safe to show msg to users.
	SafeToShow bool
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches app errors by code, so errors.Is(err, &AppError{Code: ErrorCodeNotFound}) works.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); !ok {
		return false
	} else {
		return e.Code == t.Code
	}
}

func (e *AppError) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case ErrorCodeValidation:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (e *AppError) PublicMessage() string {
	if e == nil {
		return "internal error"
	}
	if e.SafeToShow {
		return e.Message
	}
	if e.Code == ErrorCodeStorage {
		return "unable to persist tasks, please try again later"
	}
	return "internal error"
}

// WithOper returns a copy of the error with operation set.
func (e *AppError) WithOper(o string) *AppError {
	if e == nil {
		return nil
	}
	c := *e
	c.Operation = o
	return &c
}

func AsAppError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is an AppError with the code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

type AppErrorBuilder struct {
	code    ErrorCode
	message string
	err     error

	operation  string
	safeToShow bool
}

func NewAppErrorBuilder(code ErrorCode) *AppErrorBuilder {
	return &AppErrorBuilder{
		code: code,
	}
}
func (b *AppErrorBuilder) Message(m string) *AppErrorBuilder {
	b.message = m
	return b
}
func (b *AppErrorBuilder) Err(e error) *AppErrorBuilder {
	b.err = e
	return b
}
func (b *AppErrorBuilder) Oper(o string) *AppErrorBuilder {
	b.operation = o
	return b
}
func (b *AppErrorBuilder) SafeToShow(safe bool) *AppErrorBuilder {
	b.safeToShow = safe
	return b
}
func (b *AppErrorBuilder) Build() *AppError {
	return &AppError{
		Code:       b.code,
		Message:    b.message,
		Err:        b.err,
		Operation:  b.operation,
		SafeToShow: b.safeToShow,
	}
}

// Some useful constructors.

func NewInternalError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeInternal).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(false).
		Build()
}

func NewValidationError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeValidation).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewTaskNotFoundError(taskID int64, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeNotFound).
		Message("task " + strconv.FormatInt(taskID, 10) + " not found").
		Oper(op).
		SafeToShow(true).
		Build()
}

// NewStorageError hides the backend failure from clients behind a generic message.
func NewStorageError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeStorage).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(false).
		Build()
}
