package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // 待支付
	OrderStatusPaid      OrderStatus = "paid"      // 已支付
	OrderStatusRedeemed  OrderStatus = "redeemed"  // 已核销
	OrderStatusCancelled OrderStatus = "cancelled" // 已取消
	OrderStatusExpired   OrderStatus = "expired"   // 已过期
)

// IsTerminal 是否终态（redeemed / cancelled / expired）
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRedeemed, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// PaymentMethod 支付方式（封闭集合）
type PaymentMethod string

const (
	PaymentMethodAlipay PaymentMethod = "alipay"
	PaymentMethodWechat PaymentMethod = "wechat"
)

// IsValid 是否为支持的支付方式
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodAlipay || m == PaymentMethodWechat
}

type Order struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID       string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_id"`
	UserID        string          `gorm:"type:varchar(64);default:'';index" json:"user_id"`
	ProductID     string          `gorm:"type:varchar(32);not null" json:"product_id"`
	ProductName   string          `gorm:"type:varchar(64);not null" json:"product_name"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Credits       int             `gorm:"not null" json:"credits"`
	PaymentMethod PaymentMethod   `gorm:"type:varchar(16);not null" json:"payment_method"`
	TestType      string          `gorm:"type:varchar(32);default:''" json:"test_type"`
	Status        OrderStatus     `gorm:"type:varchar(16);not null;default:'pending';index;index:idx_code_status" json:"status"`
	RedeemCode    string          `gorm:"type:varchar(8);default:'';index:idx_code_status" json:"redeem_code"`
	PaymentID     string          `gorm:"type:varchar(64);default:''" json:"payment_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	ExpiresAt     time.Time       `gorm:"not null;index:idx_status_expires" json:"expires_at"`
	PaidAt        *time.Time      `json:"paid_at"`
	RedeemedAt    *time.Time      `json:"redeemed_at"`
}

func (Order) TableName() string {
	return "orders"
}
