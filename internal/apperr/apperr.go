// Package apperr holds the error taxonomy shared by the store, queue and handlers.
package apperr

import (
	stderrors "errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CodeExecutionNotFound = "EXECUTION_NOT_FOUND"
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeAlreadyTerminal   = "ALREADY_TERMINAL"
	CodeDuplicateID       = "DUPLICATE_ID"
	CodeTimeout           = "TIMEOUT"
	CodeEscalationFailed  = "ESCALATION_FAILED"
	CodeDispatchFailed    = "DISPATCH_FAILED"
	CodeQueueTaskExpired  = "QUEUE_TASK_EXPIRED"
	CodeInvalidTaskState  = "INVALID_TASK_STATE"
	CodeInvalidRequest    = "INVALID_REQUEST"
)

var (
	ErrExecutionNotFound = goerrors.New("execution not found", goerrors.CategoryBadInput).
				WithTextCode(CodeExecutionNotFound)
	ErrTaskNotFound = goerrors.New("task not found", goerrors.CategoryBadInput).
			WithTextCode(CodeTaskNotFound)
	ErrAlreadyTerminal = goerrors.New("execution already terminal", goerrors.CategoryConflict).
				WithTextCode(CodeAlreadyTerminal)
	ErrDuplicateID = goerrors.New("execution id already exists", goerrors.CategoryConflict).
			WithTextCode(CodeDuplicateID)
	ErrTimeout = goerrors.New("operation timed out", goerrors.CategoryExternal).
			WithTextCode(CodeTimeout)
	ErrEscalationFailed = goerrors.New("force termination failed", goerrors.CategoryExternal).
				WithTextCode(CodeEscalationFailed)
	ErrDispatchFailed = goerrors.New("dispatch failed", goerrors.CategoryExternal).
				WithTextCode(CodeDispatchFailed)
	ErrQueueTaskExpired = goerrors.New("task expired before it was resolved", goerrors.CategoryConflict).
				WithTextCode(CodeQueueTaskExpired)
	ErrInvalidTaskState = goerrors.New("task is not in a state that accepts this operation", goerrors.CategoryConflict).
				WithTextCode(CodeInvalidTaskState)
	ErrInvalidRequest = goerrors.New("invalid request", goerrors.CategoryValidation).
				WithTextCode(CodeInvalidRequest)
)

// New clones base, overriding the message when set and attaching source and metadata.
func New(base *goerrors.Error, message string, source error, metadata map[string]any) *goerrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func ExecutionNotFound(id string) error {
	return New(ErrExecutionNotFound, "", nil, map[string]any{"id": id})
}

func TaskNotFound(id string) error {
	return New(ErrTaskNotFound, "", nil, map[string]any{"id": id})
}

func DuplicateID(id string) error {
	return New(ErrDuplicateID, "", nil, map[string]any{"id": id})
}

func TaskExpired(id string) error {
	return New(ErrQueueTaskExpired, "", nil, map[string]any{"id": id})
}

func InvalidTaskState(id, status string) error {
	return New(ErrInvalidTaskState, "task "+id+" is "+status, nil, map[string]any{"id": id, "status": status})
}

func Timeout(message string) error {
	return New(ErrTimeout, message, nil, nil)
}

func DispatchFailed(target string, source error) error {
	msg := "dispatch to " + target + " failed"
	if source != nil {
		msg += ": " + source.Error()
	}
	return New(ErrDispatchFailed, msg, source, map[string]any{"target": target})
}

func EscalationFailed(target string, source error) error {
	msg := "force termination of " + target + " failed"
	if source != nil {
		msg += ": " + source.Error()
	}
	return New(ErrEscalationFailed, msg, source, map[string]any{"target": target})
}

func InvalidRequest(message string) error {
	return New(ErrInvalidRequest, message, nil, nil)
}

// Code returns the text code carried by err, or "" when err is not a taxonomy error.
func Code(err error) string {
	var ge *goerrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// Is reports whether err carries the text code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Message returns the human readable message of err.
func Message(err error) string {
	var ge *goerrors.Error
	if stderrors.As(err, &ge) {
		return ge.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps err to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeExecutionNotFound, CodeTaskNotFound:
		return http.StatusNotFound
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeDuplicateID, CodeAlreadyTerminal, CodeInvalidTaskState:
		return http.StatusConflict
	case CodeQueueTaskExpired:
		return http.StatusGone
	case CodeDispatchFailed, CodeEscalationFailed:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
