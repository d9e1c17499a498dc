package exchange

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

func TestClassifyAPIError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		msg    string
		check  func(error) bool
	}{
		{"401 认证失败", 401, "UNAUTHORIZED", "invalid api key", IsAuth},
		{"403 禁止访问", 403, "FORBIDDEN", "forbidden", IsAuth},
		{"资金不足错误码", 400, "INSUFFICIENT_FUNDS", "not enough balance", IsInsufficientFunds},
		{"资金不足消息", 400, "BAD_REQUEST", "Insufficient quantity available", IsInsufficientFunds},
		{"500 暂时性", 500, "", "internal error", IsTransient},
		{"429 暂时性", 429, "TOO_MANY_REQUESTS", "slow down", IsTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyAPIError(tc.status, tc.code, tc.msg)
			if !tc.check(err) {
				t.Fatalf("分类不符: %v", err)
			}
		})
	}

	// 普通 400 保持为 APIError，不归入任何可重试/致命类别
	err := classifyAPIError(400, "INVALID_ORDER", "bad price")
	if IsTransient(err) || IsAuth(err) || IsInsufficientFunds(err) {
		t.Fatalf("普通业务错误不应归类: %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.Code != "INVALID_ORDER" {
		t.Fatalf("应保留原始 APIError: %v", err)
	}
}

func TestIsTransient_WrappedErrors(t *testing.T) {
	base := &TransientError{Err: errors.New("dial timeout")}
	wrapped := errors.Wrap(base, "查询余额失败")
	if !IsTransient(wrapped) {
		t.Error("包装后的暂时性错误应仍可识别")
	}

	if !IsTransient(context.DeadlineExceeded) {
		t.Error("上下文超时应视为暂时性")
	}

	if IsTransient(errors.New("plain")) {
		t.Error("普通错误不应视为暂时性")
	}
	if IsTransient(nil) {
		t.Error("nil 不应视为暂时性")
	}
}

func TestIsExpiredRequest(t *testing.T) {
	err := classifyAPIError(400, "INVALID_SIGNATURE", "Request has expired")
	if !isExpiredRequest(err) {
		t.Error("过期请求应被识别")
	}
	if isExpiredRequest(classifyAPIError(400, "X", "other")) {
		t.Error("其他 400 不应识别为过期")
	}
	if isExpiredRequest(errors.New("network down")) {
		t.Error("非 APIError 不应识别为过期")
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	inner := &APIError{StatusCode: 401, Code: "UNAUTHORIZED", Message: "bad key"}
	err := &AuthError{Err: inner}
	var target *APIError
	if !errors.As(err, &target) || target.StatusCode != 401 {
		t.Fatal("AuthError 应能解包出原始 APIError")
	}
}
