package catalog

import "github.com/shopspring/decimal"

// Product 商品条目（只读参考数据）
type Product struct {
	ID      string
	Name    string
	Price   decimal.Decimal
	Credits int
}

// Catalog 商品目录，启动后不可变
type Catalog struct {
	products map[string]Product
}

// New 创建商品目录
func New(products []Product) *Catalog {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &Catalog{products: m}
}

// Default 默认商品目录
func Default() *Catalog {
	return New([]Product{
		{ID: "test-basic", Name: "基础测试", Price: decimal.NewFromFloat(19.9), Credits: 1},
		{ID: "test-standard", Name: "标准测试", Price: decimal.NewFromFloat(29.9), Credits: 1},
		{ID: "test-premium", Name: "高级测试", Price: decimal.NewFromFloat(49.9), Credits: 3},
		{ID: "credits-5", Name: "5次测试包", Price: decimal.NewFromInt(88), Credits: 5},
		{ID: "credits-10", Name: "10次测试包", Price: decimal.NewFromInt(168), Credits: 10},
	})
}

// Get 按商品 ID 查询，返回副本
func (c *Catalog) Get(productID string) (Product, bool) {
	p, ok := c.products[productID]
	return p, ok
}
