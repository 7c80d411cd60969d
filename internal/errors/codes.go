package errors

import "sync"

// Code 表示平台内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志分级和告警。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeProviderFailure       Code = "PROVIDER_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeCancelled             Code = "CANCELLED"
	CodeAccessDenied          Code = "ACCESS_DENIED"
	CodeCapacityExceeded      Code = "CAPACITY_EXCEEDED"
)

// Attributes 是错误码的默认描述、严重程度与重试属性。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

type catalog struct {
	mu    sync.RWMutex
	codes map[Code]Attributes
}

var codes = &catalog{codes: map[Code]Attributes{
	CodeUnknown:               {"unknown error", SeverityCritical, false},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false},
	CodeNotFound:              {"resource not found", SeverityInfo, false},
	CodeConflict:              {"resource conflict", SeverityWarning, false},
	CodeInitializationFailure: {"component not initialized", SeverityWarning, true},
	CodeStorageFailure:        {"storage failure", SeverityCritical, true},
	CodeQueueFailure:          {"queue failure", SeverityCritical, true},
	CodeProviderFailure:       {"completion provider failure", SeverityWarning, true},
	CodeTimeout:               {"operation timed out", SeverityWarning, true},
	CodeCancelled:             {"operation cancelled", SeverityInfo, false},
	CodeAccessDenied:          {"access denied", SeverityWarning, false},
	CodeCapacityExceeded:      {"capacity exceeded", SeverityWarning, true},
}}

func (c *catalog) lookup(code Code) Attributes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if attr, ok := c.codes[code]; ok {
		return attr
	}
	return c.codes[CodeUnknown]
}

// Register 在初始化阶段登记业务模块自己的错误码，重复登记会覆盖旧值。
func Register(code Code, attr Attributes) {
	codes.mu.Lock()
	codes.codes[code] = attr
	codes.mu.Unlock()
}

// AttributesOf 返回错误码的属性，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	return codes.lookup(code)
}
