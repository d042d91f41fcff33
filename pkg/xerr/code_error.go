package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// 知识库领域错误码
const (
	UnsupportedFormat  = 1001 // 文件扩展名不支持
	FormatValidation   = 1002 // 结构化文件内容校验失败
	FileTooLarge       = 1003
	ProcessingTimeout  = 1004
	EmbeddingAPI       = 1101 // 向量化服务调用失败
	RerankAPI          = 1102
	GenerationAPI      = 1103
	StorageConnection  = 1201 // 向量库不可达
	StorageCorruption  = 1202
	TaskNotFound       = 1301
	CollectionNotFound = 1302
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam       = New(BadRequest, "参数错误")
)

// Is 判断 err 是否为指定错误码的 CodeError，支持包装链
func Is(err error, code int) bool {
	var ce *CodeError
	return errors.As(err, &ce) && ce.Code == code
}
