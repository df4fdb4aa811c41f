package errorutil

import "errors"

// Error 业务错误（携带稳定的机器可读错误码和 HTTP 状态码）
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return e.Message
}

// New 创建业务错误
func New(code, message string, httpStatus int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// FromError 提取业务错误，不是业务错误时返回 nil
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsCode 判断错误是否为指定错误码
func IsCode(err error, code string) bool {
	e := FromError(err)
	return e != nil && e.Code == code
}
