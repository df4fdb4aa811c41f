package repository

import (
	"context"
	"errors"

	"mx-pay/internal/model"

	"gorm.io/gorm"
)

// GormUserStore 基于 PostgreSQL 的用户存储
type GormUserStore struct {
	db *gorm.DB
}

func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

// Get 按 user_id 查找用户
func (r *GormUserStore) Get(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create 创建用户
func (r *GormUserStore) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// AddCredits 原子增加积分（单条 UPDATE，不做读改写）
func (r *GormUserStore) AddCredits(ctx context.Context, userID string, credits int) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("user_id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", credits))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
