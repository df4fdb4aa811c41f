package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"mx-pay/internal/model"
	"mx-pay/internal/repository"
	"mx-pay/pkg/logger"
)

const (
	// codeAlphabet 核销码字符集，去掉了易混淆的 0/O、1/I
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
	// maxCodeAttempts 碰撞重试上限（32^8 键空间下基本不会用到）
	maxCodeAttempts = 8
)

// RedeemService 核销码注册表：生成唯一核销码并一次性消费
type RedeemService struct {
	orders repository.OrderStore
	log    logger.Logger
}

func NewRedeemService(orders repository.OrderStore, log logger.Logger) *RedeemService {
	return &RedeemService{orders: orders, log: log}
}

// RedeemResult 核销结果
type RedeemResult struct {
	ProductName string
	Credits     int
	Order       *model.Order
}

// GenerateCode 生成 8 位核销码
func GenerateCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// MintUniqueCode 生成当前未被占用的核销码，碰撞时重试
func (s *RedeemService) MintUniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := GenerateCode()
		taken, err := s.orders.CodeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		s.log.Warnf("核销码碰撞, 重试: %s", code)
	}
	return "", fmt.Errorf("核销码生成失败: 连续 %d 次碰撞", maxCodeAttempts)
}

// Redeem 消费核销码：大小写归一后按码原子完成 paid -> redeemed。
// 并发核销同一个码时只有一次成功，其余报核销码无效
func (s *RedeemService) Redeem(ctx context.Context, code string) (*RedeemResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrMissingRedeemCode
	}

	order, err := s.orders.RedeemByCode(ctx, code, time.Now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidRedeemCode
	}
	if err != nil {
		return nil, err
	}

	s.log.Infof("订单 %s 核销成功, 核销码: %s", order.OrderID, code)
	return &RedeemResult{
		ProductName: order.ProductName,
		Credits:     order.Credits,
		Order:       order,
	}, nil
}
