package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// 错误分级：
//   - TransientError：网络超时/5xx/429，有限次退避重试后算一次失败操作
//   - AuthError：凭证无效，对该账户致命，其他账户不受影响
//   - InsufficientFundsError：资金不足，非致命，不在同一轮内触发补仓
// 风控熔断不是错误，是受控的状态迁移，不在此处建模

// APIError 交易所返回的业务错误
type APIError struct {
	StatusCode int    // HTTP 状态码
	Code       string // 交易所错误码（如 INSUFFICIENT_FUNDS / INVALID_ORDER）
	Message    string // 错误信息
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error: status=%d code=%s msg=%s", e.StatusCode, e.Code, e.Message)
}

// TransientError 暂时性网络错误（可重试）
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AuthError 认证错误（账户级致命）
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// InsufficientFundsError 资金不足
type InsufficientFundsError struct {
	Err error
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %v", e.Err)
}

func (e *InsufficientFundsError) Unwrap() error {
	return e.Err
}

// ErrAmbiguousOrder 下单响应不明确（超时/5xx），需要先查单确认再决定是否重发
var ErrAmbiguousOrder = errors.New("order placement ambiguous, confirm before retry")

// IsTransient 判断是否为可重试的暂时性错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500 || ae.StatusCode == 429
	}
	return false
}

// IsAuth 判断是否为认证错误
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsInsufficientFunds 判断是否为资金不足
func IsInsufficientFunds(err error) bool {
	var ie *InsufficientFundsError
	return errors.As(err, &ie)
}

// isExpiredRequest 交易所时间戳过期响应（重新签名后重试一次即可）
func isExpiredRequest(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return strings.Contains(ae.Message, "Request has expired")
}

// classifyAPIError 按状态码归类业务错误
func classifyAPIError(statusCode int, code, message string) error {
	apiErr := &APIError{StatusCode: statusCode, Code: code, Message: message}

	switch {
	case statusCode == 401 || statusCode == 403:
		return &AuthError{Err: apiErr}
	case strings.EqualFold(code, "INSUFFICIENT_FUNDS") ||
		strings.Contains(strings.ToUpper(message), "INSUFFICIENT"):
		return &InsufficientFundsError{Err: apiErr}
	case statusCode >= 500 || statusCode == 429:
		return &TransientError{Err: apiErr}
	default:
		return apiErr
	}
}
