package repository

import (
	"context"
	"errors"
	"time"

	"mx-pay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderStore 基于 PostgreSQL 的订单存储
type GormOrderStore struct {
	db *gorm.DB
}

func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db}
}

// Create 创建订单
func (r *GormOrderStore) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// Get 按订单号查找订单
func (r *GormOrderStore) Get(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListByUser 查询用户全部订单，按创建时间倒序
func (r *GormOrderStore) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}

// MarkPaid pending -> paid 条件更新，未命中说明订单不存在或已离开 pending
func (r *GormOrderStore) MarkPaid(ctx context.Context, orderID, paymentID, redeemCode string, paidAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, model.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":      model.OrderStatusPaid,
			"payment_id":  paymentID,
			"redeem_code": redeemCode,
			"paid_at":     paidAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.conflictOrNotFound(ctx, orderID)
	}
	return nil
}

// MarkCancelled pending -> cancelled 条件更新
func (r *GormOrderStore) MarkCancelled(ctx context.Context, orderID string) error {
	return r.transition(ctx, orderID, model.OrderStatusCancelled, nil)
}

// MarkExpired pending -> expired 条件更新
func (r *GormOrderStore) MarkExpired(ctx context.Context, orderID string) error {
	return r.transition(ctx, orderID, model.OrderStatusExpired, nil)
}

func (r *GormOrderStore) transition(ctx context.Context, orderID string, to model.OrderStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, model.OrderStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.conflictOrNotFound(ctx, orderID)
	}
	return nil
}

// conflictOrNotFound 区分条件更新未命中的原因
func (r *GormOrderStore) conflictOrNotFound(ctx context.Context, orderID string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// RedeemByCode 在事务中带行锁查找 paid 订单并标记为 redeemed
func (r *GormOrderStore) RedeemByCode(ctx context.Context, code string, at time.Time) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("redeem_code = ? AND status = ?", code, model.OrderStatusPaid).
			First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return tx.Model(&model.Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"status":      model.OrderStatusRedeemed,
				"redeemed_at": at,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	order.Status = model.OrderStatusRedeemed
	order.RedeemedAt = &at
	return &order, nil
}

// CodeTaken 核销码是否被未核销（paid）订单占用
func (r *GormOrderStore) CodeTaken(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("redeem_code = ? AND status = ?", code, model.OrderStatusPaid).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListExpiredPending 查询已超过有效期但仍为 pending 的订单
func (r *GormOrderStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.OrderStatusPending, now).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
