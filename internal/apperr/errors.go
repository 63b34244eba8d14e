// Package apperr 定义面向 HTTP 边界的错误分类
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误码
const (
	CodeParse            = "PARSE_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeEnrichmentFailed = "ENRICHMENT_FAILED"
	CodeNotOwned         = "NOT_OWNED"
	CodeStorage          = "STORAGE_ERROR"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error 结构化错误
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New 创建错误
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 包装底层错误，err 为 nil 时返回 nil
func Wrap(code string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Parse 工作簿解析错误
func Parse(err error, message string) error {
	if err == nil {
		return New(CodeParse, message)
	}
	return Wrap(CodeParse, err, message)
}

// NotFound 资源不存在
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// Invalid 请求参数错误
func Invalid(format string, args ...any) *Error {
	return New(CodeInvalidInput, fmt.Sprintf(format, args...))
}

// Code 返回错误码，非 *Error 返回 CodeInternal
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is 判断错误链中是否包含指定错误码
func Is(err error, code string) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// Message 返回面向用户的消息
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus 错误码对应的 HTTP 状态
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeParse, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotOwned:
		return http.StatusConflict
	case CodeEnrichmentFailed, CodeStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
