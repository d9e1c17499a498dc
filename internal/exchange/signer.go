package exchange

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// 签名规则：对
//   instruction=<指令名>&<按 key 升序的参数串>&timestamp=<毫秒>&window=<毫秒>
// 做 ED25519 签名，base64 编码后放入 X-Signature 头

const defaultSignWindowMS = 5000

// Signer 单账户请求签名器
type Signer struct {
	apiKey string
	priv   ed25519.PrivateKey
	window int64 // 签名有效窗口（毫秒）
}

// NewSigner 从 base64 的 ED25519 种子创建签名器
func NewSigner(apiKey, apiSecret string, windowMS int64) (*Signer, error) {
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(apiSecret))
	if err != nil {
		return nil, errors.Wrap(err, "解码 API Secret 失败")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("API Secret 种子长度必须为 %d 字节，实际 %d", ed25519.SeedSize, len(seed))
	}
	if windowMS <= 0 {
		windowMS = defaultSignWindowMS
	}
	return &Signer{
		apiKey: apiKey,
		priv:   ed25519.NewKeyFromSeed(seed),
		window: windowMS,
	}, nil
}

// APIKey 返回账户的 API Key
func (s *Signer) APIKey() string {
	return s.apiKey
}

// signingString 组装待签名字符串
func (s *Signer) signingString(instruction string, params map[string]string, timestampMS int64) string {
	var sb strings.Builder
	sb.WriteString("instruction=")
	sb.WriteString(instruction)

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("&%s=%s", k, params[k]))
		}
	}

	sb.WriteString(fmt.Sprintf("&timestamp=%d&window=%d", timestampMS, s.window))
	return sb.String()
}

// Sign 对指令+参数签名，返回 base64 签名
func (s *Signer) Sign(instruction string, params map[string]string, timestampMS int64) string {
	payload := s.signingString(instruction, params, timestampMS)
	sig := ed25519.Sign(s.priv, []byte(payload))
	return base64.StdEncoding.EncodeToString(sig)
}

// Headers 生成一次签名请求的完整认证头
func (s *Signer) Headers(instruction string, params map[string]string, now time.Time) map[string]string {
	ts := now.UnixMilli()
	return map[string]string{
		"X-API-Key":   s.apiKey,
		"X-Signature": s.Sign(instruction, params, ts),
		"X-Timestamp": strconv.FormatInt(ts, 10),
		"X-Window":    strconv.FormatInt(s.window, 10),
	}
}
