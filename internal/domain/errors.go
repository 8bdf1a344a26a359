package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError 配置缺失或非法：启动即失败
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ExternalCallFailure 外部依赖（行情/研究/券商）不可达或超时：只跳过当前标的
type ExternalCallFailure struct {
	Op     string
	Ticker string
	Err    error
}

func (e *ExternalCallFailure) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("external call %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("external call %s failed for %s: %v", e.Op, e.Ticker, e.Err)
}

func (e *ExternalCallFailure) Unwrap() error { return e.Err }

// PersistenceFailure learning store 写入失败：当前周期必须中止
type PersistenceFailure struct {
	Op  string
	Err error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

// PolicyViolation 安全闸门拦截：不是错误，是有意不执行
type PolicyViolation struct {
	Gate   string
	Detail string
}

func (e *PolicyViolation) Error() string {
	if e.Detail == "" {
		return "policy violation: " + e.Gate
	}
	return fmt.Sprintf("policy violation: %s (%s)", e.Gate, e.Detail)
}

// IsPersistenceFailure 是否为持久化失败
func IsPersistenceFailure(err error) bool {
	var pf *PersistenceFailure
	return errors.As(err, &pf)
}

// IsConfigurationError 是否为配置错误
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsExternalCallFailure 是否为外部调用失败
func IsExternalCallFailure(err error) bool {
	var ef *ExternalCallFailure
	return errors.As(err, &ef)
}
