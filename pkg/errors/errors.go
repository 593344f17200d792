// Package errors 提供统一的错误处理框架
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

const (
	// 通用错误码
	CodeUnknown      Code = "UNKNOWN"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeTimeout      Code = "TIMEOUT"
	CodeRateLimited  Code = "RATE_LIMITED"

	// 优化引擎相关
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
	CodeNoFeasibleSolution  Code = "NO_FEASIBLE_SOLUTION"
	CodeDoubleBooking       Code = "DOUBLE_BOOKING"
	CodeInvalidTimeRange    Code = "INVALID_TIME_RANGE"
	CodeInputData           Code = "INPUT_DATA"
	CodeScopeLocked         Code = "SCOPE_LOCKED"
	CodeModelTooLarge       Code = "MODEL_TOO_LARGE"

	// 数据相关
	CodeDatabaseError     Code = "DATABASE_ERROR"
	CodePersistenceFailed Code = "PERSISTENCE_FAILED"
	CodeValidationFail    Code = "VALIDATION_FAILED"
)

// AppError 应用错误
type AppError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Cause      error                  `json:"-"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithField 添加字段
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// New 创建新错误
func New(code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// codeToHTTPStatus 错误码转HTTP状态码
func codeToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeValidationFail, CodeInvalidTimeRange:
		return http.StatusBadRequest
	case CodeDoubleBooking, CodeScopeLocked:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeNoFeasibleSolution, CodeInputData, CodeConstraintViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Is 检查错误是否为特定类型
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode 获取错误码
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetHTTPStatus 获取HTTP状态码
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// InvalidInput 创建输入无效错误
func InvalidInput(field, reason string) *AppError {
	return New(CodeInvalidInput, fmt.Sprintf("字段 '%s' 无效: %s", field, reason))
}

// ConstraintViolation 创建约束违反错误
func ConstraintViolation(constraint, details string) *AppError {
	return New(CodeConstraintViolation, fmt.Sprintf("违反约束 '%s': %s", constraint, details))
}

// NoFeasibleSolution 阶段模型无可行解，结果为部分分配
func NoFeasibleSolution(phase string, unmetRows int) *AppError {
	return New(CodeNoFeasibleSolution, fmt.Sprintf("阶段 %s 无可行解，%d 条约束未满足", phase, unmetRows)).
		WithField("phase", phase).
		WithField("unmet_rows", unmetRows)
}

// ModelTooLarge 模型超过精确求解规模上限
func ModelTooLarge(phase string, vars, limit int) *AppError {
	return New(CodeModelTooLarge, fmt.Sprintf("阶段 %s 模型变量数 %d 超过上限 %d，改用启发式", phase, vars, limit)).
		WithField("phase", phase).
		WithField("vars", vars)
}

// RateLimited 请求频率超限
func RateLimited() *AppError {
	return New(CodeRateLimited, "请求频率超限")
}

// DoubleBooking 创建重复占用错误
func DoubleBooking(personID, date, halfDay string) *AppError {
	return New(CodeDoubleBooking, fmt.Sprintf("人员 %s 在 %s %s 被重复分配", personID, date, halfDay)).
		WithField("person_id", personID).
		WithField("date", date).
		WithField("half_day", halfDay)
}

// PersistenceFailed 创建持久化失败错误
func PersistenceFailed(phase string, cause error) *AppError {
	return Wrap(cause, CodePersistenceFailed, fmt.Sprintf("阶段 %s 写入失败", phase)).
		WithField("phase", phase)
}

// ScopeLocked 创建范围被占用错误
func ScopeLocked(scope string) *AppError {
	return New(CodeScopeLocked, fmt.Sprintf("范围 %s 正在优化中", scope)).WithField("scope", scope)
}

// InputData 创建输入数据错误（记录会被跳过）
func InputData(reason string) *AppError {
	return New(CodeInputData, reason)
}

// InvalidTimeRange 时间或日期范围无效
func InvalidTimeRange(cause error) *AppError {
	return Wrap(cause, CodeInvalidTimeRange, cause.Error())
}

// ValidationErrors 验证错误集合
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// ValidationError 单个验证错误
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "验证失败"
	}
	return fmt.Sprintf("验证失败: %s - %s", ve.Errors[0].Field, ve.Errors[0].Message)
}

// Add 添加验证错误
func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

// HasErrors 检查是否有错误
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToAppError 转换为 AppError
func (ve *ValidationErrors) ToAppError() *AppError {
	err := New(CodeValidationFail, "验证失败")
	err.Fields = make(map[string]interface{})
	for _, e := range ve.Errors {
		err.Fields[e.Field] = e.Message
	}
	return err
}
