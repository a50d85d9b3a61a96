package remote

import (
	"errors"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

const (
	// networkNotDetectedSignature 为上游网络未就绪的消息签名，命中后走冷却路径。
	networkNotDetectedSignature = "could not detect network"
	// orderMissingSignature 为订单已不存在的消息签名，命中后触发重新挂单。
	orderMissingSignature = "not found"
)

var (
	// ErrUnsupported 表示当前网络实现不支持该操作。
	ErrUnsupported = errors.New("remote: 当前网络不支持该操作")
)

// IsNetworkNotDetected 判断错误是否命中网络未就绪签名。
func IsNetworkNotDetected(err error) bool {
	return err != nil && strings.Contains(err.Error(), networkNotDetectedSignature)
}

// IsOrderMissing 判断错误是否表示订单已不存在。
func IsOrderMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), orderMissingSignature)
}

// IsPermanent 判断是否为明确不可重试的交易所错误。只有携带 ccxt
// 错误类型的失败才会被判定，普通错误一律交给重试预算处理。
func IsPermanent(err error) bool {
	var ccxtErr *ccxt.Error
	if !errors.As(err, &ccxtErr) {
		return false
	}
	return !IsRetryable(err)
}

// IsRetryable 判断交易所类错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
