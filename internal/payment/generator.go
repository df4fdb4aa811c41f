package payment

import (
	"context"
	"errors"
	"time"

	"mx-pay/internal/model"

	"github.com/shopspring/decimal"
)

var (
	// ErrProviderNotConfigured 支付渠道未配置
	ErrProviderNotConfigured = errors.New("支付渠道未配置")
	// ErrProviderTimeout 支付渠道调用超时
	ErrProviderTimeout = errors.New("支付渠道调用超时")
)

// Artifact 支付凭据：可扫描的二维码数据和支付链接
type Artifact struct {
	QRCode     string `json:"qrCode"`
	PaymentURL string `json:"paymentUrl"`
}

// Request 生成支付凭据所需的订单信息
type Request struct {
	OrderID     string
	Amount      decimal.Decimal
	ProductName string
	Method      model.PaymentMethod
}

// Generator 支付凭据生成器，按支付方式多态
type Generator interface {
	GenerateArtifact(ctx context.Context, req Request) (*Artifact, error)
}

// ProviderGenerator 生产环境生成器：按支付方式分发到渠道适配器，
// 调用有超时上限，未配置的渠道直接失败
type ProviderGenerator struct {
	adapters map[model.PaymentMethod]Generator
	timeout  time.Duration
}

// NewProviderGenerator 创建生产环境生成器
func NewProviderGenerator(timeout time.Duration) *ProviderGenerator {
	return &ProviderGenerator{
		adapters: make(map[model.PaymentMethod]Generator),
		timeout:  timeout,
	}
}

// Register 注册渠道适配器
func (g *ProviderGenerator) Register(method model.PaymentMethod, adapter Generator) {
	g.adapters[method] = adapter
}

// GenerateArtifact 分发到对应渠道适配器
func (g *ProviderGenerator) GenerateArtifact(ctx context.Context, req Request) (*Artifact, error) {
	adapter, ok := g.adapters[req.Method]
	if !ok {
		return nil, ErrProviderNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	artifact, err := adapter.GenerateArtifact(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrProviderTimeout
		}
		return nil, err
	}
	return artifact, nil
}
