package service

import (
	"context"
	"errors"

	"mx-pay/internal/repository"
	"mx-pay/pkg/logger"
)

// CreditService 积分账本：订单首次到达 paid 时给用户加积分，
// 每笔订单最多加一次（由 OrderService 的 CAS 胜出方调用）
type CreditService struct {
	users repository.UserStore
	log   logger.Logger
}

func NewCreditService(users repository.UserStore, log logger.Logger) *CreditService {
	return &CreditService{users: users, log: log}
}

// Grant 给用户增加积分。匿名订单（userID 为空）和未注册用户直接跳过
func (s *CreditService) Grant(ctx context.Context, userID string, credits int) error {
	if userID == "" || credits <= 0 {
		return nil
	}

	err := s.users.AddCredits(ctx, userID, credits)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warnf("积分发放跳过, 用户不存在: %s", userID)
		return nil
	}
	if err != nil {
		return err
	}

	s.log.Infof("用户 %s 增加 %d 次测试机会", userID, credits)
	return nil
}
