package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
)

// Code 表示代理与守护进程内统一的错误类型标识。
type Code string

// Severity 描述错误的严重程度，用于日志分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message  string
	Severity Severity
	// Fatal 表示该错误会终止当前代理的本轮运行。
	Fatal bool
	// ExitCode 是代理进程因该错误退出时使用的退出码。
	ExitCode int
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeConfiguration         Code = "CONFIGURATION_ERROR"
	CodeConnectivity          Code = "CONNECTIVITY_ERROR"
	CodePredictionUnavailable Code = "PREDICTION_UNAVAILABLE"
	CodeTransaction           Code = "TRANSACTION_ERROR"
	CodeConfirmationTimeout   Code = "CONFIRMATION_TIMEOUT"
	CodeAgentDisabled         Code = "AGENT_DISABLED"
	CodeLaunchFailure         Code = "LAUNCH_FAILURE"
	CodeLedgerFailure         Code = "LEDGER_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Fatal:    true,
			ExitCode: 1,
		},
		CodeConfiguration: {
			Message:  "invalid configuration",
			Severity: SeverityCritical,
			Fatal:    true,
			ExitCode: 2,
		},
		CodeConnectivity: {
			Message:  "chain endpoint unreachable",
			Severity: SeverityCritical,
			Fatal:    true,
			ExitCode: 3,
		},
		CodePredictionUnavailable: {
			Message:  "prediction unavailable",
			Severity: SeverityWarning,
			Fatal:    true,
			ExitCode: 0,
		},
		CodeTransaction: {
			Message:  "transaction rejected",
			Severity: SeverityCritical,
			Fatal:    true,
			ExitCode: 4,
		},
		CodeConfirmationTimeout: {
			Message:  "confirmation not observed in time",
			Severity: SeverityWarning,
			Fatal:    false,
			ExitCode: 0,
		},
		CodeAgentDisabled: {
			Message:  "agent disabled",
			Severity: SeverityInfo,
			Fatal:    true,
			ExitCode: 0,
		},
		CodeLaunchFailure: {
			Message:  "agent launch failed",
			Severity: SeverityCritical,
			Fatal:    false,
			ExitCode: 1,
		},
		CodeLedgerFailure: {
			Message:  "ledger write failed",
			Severity: SeverityWarning,
			Fatal:    false,
			ExitCode: 0,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，会随错误一起写入日志。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// LogValue 让错误在 slog 中以结构化字段输出。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{
		slog.String("kind", string(e.code)),
		slog.String("message", e.message),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for k, v := range e.metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode 判断 err 链中是否包含指定错误码。
func IsCode(err error, code Code) bool {
	return stdErrors.Is(err, New(code, ""))
}

// ExitCodeOf 返回代理进程应使用的退出码，nil 错误为 0。
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	return AttributesOf(CodeOf(err)).ExitCode
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}
