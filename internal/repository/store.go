package repository

import (
	"context"
	"errors"
	"time"

	"mx-pay/internal/model"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrConflict 状态冲突（条件更新未命中，订单已不在期望状态）
	ErrConflict = errors.New("订单状态冲突")
)

// OrderStore 订单存储。所有状态迁移都是单个原子操作：
// Mark* 只在订单处于 pending 时生效，RedeemByCode 是查找加标记一步完成
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	Get(ctx context.Context, orderID string) (*model.Order, error)
	ListByUser(ctx context.Context, userID string) ([]model.Order, error)

	// MarkPaid pending -> paid，同时写入支付流水号、核销码和支付时间
	MarkPaid(ctx context.Context, orderID, paymentID, redeemCode string, paidAt time.Time) error
	// MarkCancelled pending -> cancelled
	MarkCancelled(ctx context.Context, orderID string) error
	// MarkExpired pending -> expired
	MarkExpired(ctx context.Context, orderID string) error

	// RedeemByCode 按核销码原子完成 paid -> redeemed，返回核销后的订单
	RedeemByCode(ctx context.Context, code string, at time.Time) (*model.Order, error)
	// CodeTaken 核销码是否已被未核销订单占用
	CodeTaken(ctx context.Context, code string) (bool, error)
	// ListExpiredPending 查询已过期但仍为 pending 的订单（供过期清理）
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Order, error)
}

// UserStore 用户存储，按 user_id 直接键查
type UserStore interface {
	Get(ctx context.Context, userID string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	// AddCredits 原子增加用户积分
	AddCredits(ctx context.Context, userID string, credits int) error
}
