package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"mx-pay/internal/model"
)

// MemoryOrderStore 进程内订单存储，未配置数据库时的默认实现。
// 互斥锁保证每个迁移是单个原子步骤，核销码走二级索引而不是全表扫描
type MemoryOrderStore struct {
	mu        sync.RWMutex
	orders    map[string]*model.Order
	codeIndex map[string]string // 核销码 -> 订单号，仅收录 paid 订单
	nextID    int64
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:    make(map[string]*model.Order),
		codeIndex: make(map[string]string),
	}
}

// Create 创建订单
func (s *MemoryOrderStore) Create(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	order.ID = s.nextID
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

// Get 按订单号查找订单
func (s *MemoryOrderStore) Get(_ context.Context, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *order
	return &cp, nil
}

// ListByUser 查询用户全部订单，按创建时间倒序
func (s *MemoryOrderStore) ListByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// MarkPaid pending -> paid，锁内一步完成检查和写入
func (s *MemoryOrderStore) MarkPaid(_ context.Context, orderID, paymentID, redeemCode string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if order.Status != model.OrderStatusPending {
		return ErrConflict
	}

	order.Status = model.OrderStatusPaid
	order.PaymentID = paymentID
	order.RedeemCode = redeemCode
	t := paidAt
	order.PaidAt = &t
	s.codeIndex[redeemCode] = orderID
	return nil
}

// MarkCancelled pending -> cancelled
func (s *MemoryOrderStore) MarkCancelled(_ context.Context, orderID string) error {
	return s.transition(orderID, model.OrderStatusCancelled)
}

// MarkExpired pending -> expired
func (s *MemoryOrderStore) MarkExpired(_ context.Context, orderID string) error {
	return s.transition(orderID, model.OrderStatusExpired)
}

func (s *MemoryOrderStore) transition(orderID string, to model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if order.Status != model.OrderStatusPending {
		return ErrConflict
	}
	order.Status = to
	return nil
}

// RedeemByCode 按核销码原子完成 paid -> redeemed
func (s *MemoryOrderStore) RedeemByCode(_ context.Context, code string, at time.Time) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderID, ok := s.codeIndex[code]
	if !ok {
		return nil, ErrNotFound
	}
	order, ok := s.orders[orderID]
	if !ok || order.Status != model.OrderStatusPaid {
		return nil, ErrNotFound
	}

	order.Status = model.OrderStatusRedeemed
	t := at
	order.RedeemedAt = &t
	delete(s.codeIndex, code)

	cp := *order
	return &cp, nil
}

// CodeTaken 核销码是否被未核销订单占用
func (s *MemoryOrderStore) CodeTaken(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.codeIndex[code]
	return ok, nil
}

// ListExpiredPending 查询已超过有效期但仍为 pending 的订单
func (s *MemoryOrderStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderStatusPending && o.ExpiresAt.Before(now) {
			orders = append(orders, *o)
			if limit > 0 && len(orders) >= limit {
				break
			}
		}
	}
	return orders, nil
}

// MemoryUserStore 进程内用户存储
type MemoryUserStore struct {
	mu     sync.RWMutex
	users  map[string]*model.User
	nextID int64
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*model.User)}
}

// Get 按 user_id 查找用户
func (s *MemoryUserStore) Get(_ context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

// Create 创建用户
func (s *MemoryUserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	user.ID = s.nextID
	cp := *user
	s.users[user.UserID] = &cp
	return nil
}

// AddCredits 原子增加积分
func (s *MemoryUserStore) AddCredits(_ context.Context, userID string, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Credits += credits
	return nil
}
