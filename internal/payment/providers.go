package payment

import "context"

// AlipayAdapter 支付宝当面付适配器
// TODO: 接入支付宝开放平台 alipay.trade.precreate 接口
type AlipayAdapter struct {
	AppID      string
	PrivateKey string
}

// GenerateArtifact 生成支付宝支付二维码
func (a *AlipayAdapter) GenerateArtifact(_ context.Context, _ Request) (*Artifact, error) {
	if a.AppID == "" || a.PrivateKey == "" {
		return nil, ErrProviderNotConfigured
	}
	// 商户信息就绪前不放开真实下单
	return nil, ErrProviderNotConfigured
}

// WechatAdapter 微信 Native 支付适配器
// TODO: 接入微信支付 v3 transactions/native 接口
type WechatAdapter struct {
	AppID     string
	MchID     string
	NotifyURL string
}

// GenerateArtifact 生成微信支付二维码
func (a *WechatAdapter) GenerateArtifact(_ context.Context, _ Request) (*Artifact, error) {
	if a.AppID == "" || a.MchID == "" {
		return nil, ErrProviderNotConfigured
	}
	return nil, ErrProviderNotConfigured
}
