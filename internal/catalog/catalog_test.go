package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefault(t *testing.T) {
	c := Default()

	cases := []struct {
		id      string
		name    string
		price   string
		credits int
	}{
		{"test-basic", "基础测试", "19.9", 1},
		{"test-standard", "标准测试", "29.9", 1},
		{"test-premium", "高级测试", "49.9", 3},
		{"credits-5", "5次测试包", "88", 5},
		{"credits-10", "10次测试包", "168", 10},
	}

	for _, tc := range cases {
		p, ok := c.Get(tc.id)
		if !ok {
			t.Errorf("商品 %s 不存在", tc.id)
			continue
		}
		if p.Name != tc.name || p.Credits != tc.credits {
			t.Errorf("商品 %s 字段异常: %+v", tc.id, p)
		}
		if !p.Price.Equal(decimal.RequireFromString(tc.price)) {
			t.Errorf("商品 %s 期望价格 %s, 实际 %s", tc.id, tc.price, p.Price)
		}
	}
}

func TestGet_Unknown(t *testing.T) {
	c := Default()
	if _, ok := c.Get("no-such-product"); ok {
		t.Error("未知商品应返回 false")
	}
}
