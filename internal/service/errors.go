package service

import (
	"net/http"

	"mx-pay/pkg/errorutil"
)

// 业务错误码（对外稳定，客户端按 code 分支）
var (
	ErrMissingFields        = errorutil.New("MISSING_FIELDS", "缺少必要参数", http.StatusBadRequest)
	ErrInvalidPaymentMethod = errorutil.New("INVALID_PAYMENT_METHOD", "不支持的支付方式", http.StatusBadRequest)
	ErrProductNotFound      = errorutil.New("PRODUCT_NOT_FOUND", "商品不存在", http.StatusNotFound)
	ErrOrderNotFound        = errorutil.New("ORDER_NOT_FOUND", "订单不存在", http.StatusNotFound)
	ErrInvalidOrderStatus   = errorutil.New("INVALID_ORDER_STATUS", "订单状态异常", http.StatusBadRequest)
	ErrOrderExpired         = errorutil.New("ORDER_EXPIRED", "订单已过期", http.StatusBadRequest)
	ErrNotAllowed           = errorutil.New("NOT_ALLOWED", "生产环境不支持模拟支付", http.StatusBadRequest)
	ErrMissingRedeemCode    = errorutil.New("MISSING_REDEEM_CODE", "请输入核销码", http.StatusBadRequest)
	ErrInvalidRedeemCode    = errorutil.New("INVALID_REDEEM_CODE", "核销码无效或已使用", http.StatusBadRequest)
	ErrPaymentNotConfigured = errorutil.New("PAYMENT_NOT_CONFIGURED", "支付渠道暂未配置", http.StatusServiceUnavailable)
	ErrPaymentTimeout       = errorutil.New("PAYMENT_TIMEOUT", "支付渠道响应超时", http.StatusGatewayTimeout)
)
