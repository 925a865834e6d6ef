package ltapi

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode 远端 API 返回的错误码（封闭枚举 + 其他）
type ErrorCode int

const (
	ErrorCodeSuccess                ErrorCode = 0
	ErrorCodeNoServerConnection     ErrorCode = 1
	ErrorCodeIncompatibleAPIVersion ErrorCode = 2
	ErrorCodeInternal               ErrorCode = 3
	ErrorCodeInvalidSession         ErrorCode = 4
	ErrorCodeTraderDoesNotExist     ErrorCode = 5
	ErrorCodeTraderExists           ErrorCode = 6
	ErrorCodeInvalidArgument        ErrorCode = 7
	ErrorCodeWrongCaptcha           ErrorCode = 8
	ErrorCodeNotFound               ErrorCode = 9
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeSuccess:
		return "SUCCESS"
	case ErrorCodeNoServerConnection:
		return "NO_SERVER_CONNECTION"
	case ErrorCodeIncompatibleAPIVersion:
		return "INCOMPATIBLE_API_VERSION"
	case ErrorCodeInternal:
		return "INTERNAL_ERROR"
	case ErrorCodeInvalidSession:
		return "INVALID_SESSION"
	case ErrorCodeTraderDoesNotExist:
		return "TRADER_DOES_NOT_EXIST"
	case ErrorCodeTraderExists:
		return "TRADER_EXISTS"
	case ErrorCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrorCodeWrongCaptcha:
		return "WRONG_CAPTCHA"
	case ErrorCodeNotFound:
		return "NOT_FOUND"
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// Error 带错误码的远端 API 错误
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError 创建带错误码的错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lt api error: %s", e.Code)
	}
	return fmt.Sprintf("lt api error: %s: %s", e.Code, e.Message)
}

// CodeOf 提取错误码
// nil 返回 SUCCESS；不带错误码的错误一律视为连接失败（传输层错误）
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorCodeSuccess
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrorCodeNoServerConnection
}

// IsCode 判断 err 是否为指定错误码
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
