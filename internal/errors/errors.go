package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
)

// Error 是平台内统一的错误类型。
//
// 属性在读取时才从错误码登记表解析，包级哨兵错误因此能看到 init 中登记的属性。
type Error struct {
	code      Code
	message   string
	cause     error
	overrides []func(*Attributes)
	metadata  map[string]string
}

// Option 调整单个错误实例。
type Option func(*Error)

// WithMetadata 附加一条键值信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.overrides = append(e.overrides, func(a *Attributes) { a.Retryable = retryable })
	}
}

// WithSeverity 覆盖错误码默认的严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.overrides = append(e.overrides, func(a *Attributes) { a.Severity = sev })
	}
}

// New 按错误码创建错误，message 为空时使用登记的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 用统一错误包裹底层错误。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) attributes() Attributes {
	attr := AttributesOf(e.code)
	for _, apply := range e.overrides {
		apply(&attr)
	}
	return attr
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := "[" + string(e.code) + "] " + e.Message()
	if e.cause == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码匹配，忽略描述与底层错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不带错误码前缀的描述，创建时未指定则取登记的默认描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.message == "" {
		return e.attributes().Message
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	return e != nil && e.attributes().Retryable
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attributes().Severity
}

// From 在错误链中查找统一错误。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误链上第一个统一错误的错误码，找不到时为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否值得重试，非统一错误一律视为不可重试。
func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// MessageOf 返回面向调用方的描述：不带底层错误的统一错误返回其描述，
// 只做归类（描述为空）的包裹返回底层错误原文，其余返回 Error()。
func MessageOf(err error) string {
	switch e, ok := From(err); {
	case err == nil:
		return ""
	case ok && e.cause != nil && e.message == "":
		return e.cause.Error()
	case ok && e.cause == nil:
		return e.Message()
	default:
		return err.Error()
	}
}
