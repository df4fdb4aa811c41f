package payment

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
)

// MockGenerator 开发环境生成器：返回本地确认链接和模拟二维码，
// 无副作用，同一订单结果确定
type MockGenerator struct {
	frontendURL string
}

// NewMockGenerator 创建开发环境生成器
func NewMockGenerator(frontendURL string) *MockGenerator {
	return &MockGenerator{frontendURL: strings.TrimRight(frontendURL, "/")}
}

// GenerateArtifact 生成模拟支付凭据
func (g *MockGenerator) GenerateArtifact(_ context.Context, req Request) (*Artifact, error) {
	paymentURL := fmt.Sprintf("%s/pay/confirm?orderId=%s", g.frontendURL, url.QueryEscape(req.OrderID))
	svg := mockSvgQRCode(paymentURL, string(req.Method))
	return &Artifact{
		QRCode:     "data:image/svg+xml," + url.PathEscape(svg),
		PaymentURL: paymentURL,
	}, nil
}

// mockSvgQRCode 生成模拟二维码 SVG（仅开发环境展示用，不可真实扫码）
func mockSvgQRCode(paymentURL, method string) string {
	color := "#07C160"
	icon := "微"
	if method == "alipay" {
		color = "#1677FF"
		icon = "支"
	}

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200" width="200" height="200">`)
	b.WriteString(`<rect width="200" height="200" fill="white"/>`)
	fmt.Fprintf(&b, `<rect x="10" y="10" width="180" height="180" fill="white" stroke="%s" stroke-width="2" rx="8"/>`, color)
	fmt.Fprintf(&b, `<g fill="%s">`, color)

	// 三个定位点
	for _, p := range [][2]int{{20, 20}, {140, 20}, {20, 140}} {
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="40" height="40"/>`, p[0], p[1])
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="30" height="30" fill="white"/>`, p[0]+5, p[1]+5)
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="20" height="20" fill="%s"/>`, p[0]+10, p[1]+10, color)
	}

	// 按链接内容确定性填充码点
	h := fnv.New64a()
	h.Write([]byte(paymentURL))
	bits := h.Sum64()
	for row := 0; row < 10; row++ {
		for col := 0; col < 10; col++ {
			x := 70 + col*10
			y := 70 + row*10
			if bits>>(uint((row*10+col)%64))&1 == 1 {
				fmt.Fprintf(&b, `<rect x="%d" y="%d" width="10" height="10"/>`, x, y)
			}
		}
	}
	b.WriteString(`</g>`)

	// 中心 Logo
	b.WriteString(`<circle cx="100" cy="100" r="20" fill="white"/>`)
	fmt.Fprintf(&b, `<circle cx="100" cy="100" r="18" fill="%s"/>`, color)
	fmt.Fprintf(&b, `<text x="100" y="106" text-anchor="middle" fill="white" font-size="16" font-weight="bold">%s</text>`, icon)
	b.WriteString(`</svg>`)
	return b.String()
}
