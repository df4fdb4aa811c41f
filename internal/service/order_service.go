package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"mx-pay/internal/catalog"
	"mx-pay/internal/model"
	"mx-pay/internal/mq"
	"mx-pay/internal/payment"
	"mx-pay/internal/repository"
	"mx-pay/pkg/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const expiredSweepBatch = 100

// OrderService 订单生命周期控制器，所有状态迁移的唯一入口
type OrderService struct {
	orders     repository.OrderStore
	catalog    *catalog.Catalog
	generator  payment.Generator
	redeem     *RedeemService
	credit     *CreditService
	mqClient   *mq.RabbitMQ // 可为 nil（未配置 MQ 时走定时清理）
	log        logger.Logger
	expireTTL  time.Duration
	production bool
}

func NewOrderService(
	orders repository.OrderStore,
	cat *catalog.Catalog,
	generator payment.Generator,
	redeem *RedeemService,
	credit *CreditService,
	mqClient *mq.RabbitMQ,
	log logger.Logger,
	expireMinutes int,
	production bool,
) *OrderService {
	return &OrderService{
		orders:     orders,
		catalog:    cat,
		generator:  generator,
		redeem:     redeem,
		credit:     credit,
		mqClient:   mqClient,
		log:        log,
		expireTTL:  time.Duration(expireMinutes) * time.Minute,
		production: production,
	}
}

// CreateOrderInput 下单请求
type CreateOrderInput struct {
	ProductID     string
	PaymentMethod string
	TestType      string
	UserID        string
}

// CreateOrderResult 下单结果
type CreateOrderResult struct {
	Order    *model.Order
	Artifact *payment.Artifact
}

// CreateOrder 创建订单并生成支付凭据。
// 校验全部通过、支付凭据拿到之后才落库，不会留下半成品订单
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.ProductID == "" || in.PaymentMethod == "" {
		return nil, ErrMissingFields
	}

	method := model.PaymentMethod(in.PaymentMethod)
	if !method.IsValid() {
		return nil, ErrInvalidPaymentMethod
	}

	product, ok := s.catalog.Get(in.ProductID)
	if !ok {
		return nil, ErrProductNotFound
	}

	now := time.Now()
	order := &model.Order{
		OrderID:       generateOrderID(),
		UserID:        in.UserID,
		ProductID:     product.ID,
		ProductName:   product.Name,
		Amount:        product.Price,
		Credits:       product.Credits,
		PaymentMethod: method,
		TestType:      in.TestType,
		Status:        model.OrderStatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.expireTTL),
	}

	artifact, err := s.generator.GenerateArtifact(ctx, payment.Request{
		OrderID:     order.OrderID,
		Amount:      order.Amount,
		ProductName: order.ProductName,
		Method:      method,
	})
	if err != nil {
		if errors.Is(err, payment.ErrProviderNotConfigured) {
			return nil, ErrPaymentNotConfigured
		}
		if errors.Is(err, payment.ErrProviderTimeout) {
			return nil, ErrPaymentTimeout
		}
		return nil, fmt.Errorf("生成支付凭据失败: %w", err)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	// 发送延时消息做过期检查（MQ 不可用时由定时清理兜底）
	if s.mqClient != nil {
		if err := s.mqClient.PublishDelay(order.OrderID); err != nil {
			s.log.Warnf("发送延时消息失败 (订单: %s): %v", order.OrderID, err)
		}
	}

	s.log.Infof("订单创建成功: %s, 商品: %s, 金额: %s", order.OrderID, order.ProductName, order.Amount.String())
	return &CreateOrderResult{Order: order, Artifact: artifact}, nil
}

// GetOrderStatus 查询订单状态快照，读取时顺带做过期检查
func (s *OrderService) GetOrderStatus(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.applyLazyExpiry(ctx, order), nil
}

// ConfirmPaid 处理支付成功确认（回调或模拟支付）。幂等：
// 订单已离开 pending 时直接回报成功，不再生成核销码、不再加积分
func (s *OrderService) ConfirmPaid(ctx context.Context, orderID, paymentID string) (*model.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusPending {
		s.log.Infof("订单 %s 已处理过 (状态: %s), 幂等返回", orderID, order.Status)
		return order, nil
	}

	if time.Now().After(order.ExpiresAt) {
		s.expireNow(ctx, order)
		return nil, ErrOrderExpired
	}

	return s.markPaid(ctx, order, paymentID)
}

// SimulatePay 模拟支付，仅限非生产环境
func (s *OrderService) SimulatePay(ctx context.Context, orderID string) (*model.Order, error) {
	if s.production {
		return nil, ErrNotAllowed
	}

	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusPending {
		return nil, ErrInvalidOrderStatus
	}
	if time.Now().After(order.ExpiresAt) {
		s.expireNow(ctx, order)
		return nil, ErrInvalidOrderStatus
	}

	paymentID := "SIM_" + uuid.New().String()
	paid, err := s.markPaid(ctx, order, paymentID)
	if err != nil {
		return nil, err
	}
	s.log.Infof("模拟支付成功, 订单: %s, 核销码: %s", paid.OrderID, paid.RedeemCode)
	return paid, nil
}

// markPaid 执行 pending -> paid：铸码、条件更新、加积分、发通知。
// 条件更新输掉并发竞争时退化为幂等成功
func (s *OrderService) markPaid(ctx context.Context, order *model.Order, paymentID string) (*model.Order, error) {
	code, err := s.redeem.MintUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	paidAt := time.Now()
	err = s.orders.MarkPaid(ctx, order.OrderID, paymentID, code, paidAt)
	if errors.Is(err, repository.ErrConflict) {
		// 并发确认中另一方先完成了迁移，读回它的结果
		current, gerr := s.orders.Get(ctx, order.OrderID)
		if gerr != nil {
			return nil, gerr
		}
		return current, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("更新订单状态失败: %w", err)
	}

	order.Status = model.OrderStatusPaid
	order.PaymentID = paymentID
	order.RedeemCode = code
	order.PaidAt = &paidAt

	// 积分发放只在 CAS 胜出方执行一次
	if err := s.credit.Grant(ctx, order.UserID, order.Credits); err != nil {
		s.log.Errorf("积分发放失败 (订单: %s, 用户: %s): %v", order.OrderID, order.UserID, err)
	}

	s.publishNotify(order)
	s.log.Infof("订单 %s 支付成功, 核销码: %s", order.OrderID, code)
	return order, nil
}

// Cancel 用户取消订单，仅限 pending
func (s *OrderService) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	err := s.orders.MarkCancelled(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrInvalidOrderStatus
	}
	if err != nil {
		return nil, err
	}

	s.log.Infof("订单已取消: %s", orderID)
	return s.orders.Get(ctx, orderID)
}

// ListUserOrders 查询用户订单列表，按创建时间倒序
func (s *OrderService) ListUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i] = *s.applyLazyExpiry(ctx, &orders[i])
	}
	return orders, nil
}

// Redeem 消费核销码
func (s *OrderService) Redeem(ctx context.Context, code string) (*RedeemResult, error) {
	return s.redeem.Redeem(ctx, code)
}

// HandleExpiredOrder 处理过期订单（MQ 消费者和定时清理共用）。
// 只动仍为 pending 的订单，其余直接跳过
func (s *OrderService) HandleExpiredOrder(ctx context.Context, orderID string) error {
	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询订单失败: %w", err)
	}

	if order.Status != model.OrderStatusPending {
		return nil
	}

	s.expireNow(ctx, order)
	return nil
}

// SweepExpired 扫描并关闭已过期的 pending 订单（cron 任务）
func (s *OrderService) SweepExpired(ctx context.Context) {
	for {
		expired, err := s.orders.ListExpiredPending(ctx, time.Now(), expiredSweepBatch)
		if err != nil {
			s.log.Errorf("查询过期订单失败: %v", err)
			return
		}
		for i := range expired {
			s.expireNow(ctx, &expired[i])
		}
		if len(expired) < expiredSweepBatch {
			return
		}
	}
}

// expireNow pending -> expired，竞争输掉（已被支付或取消）时静默放弃
func (s *OrderService) expireNow(ctx context.Context, order *model.Order) *model.Order {
	err := s.orders.MarkExpired(ctx, order.OrderID)
	if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
		current, gerr := s.orders.Get(ctx, order.OrderID)
		if gerr == nil {
			return current
		}
		return order
	}
	if err != nil {
		s.log.Errorf("更新过期订单失败 (订单: %s): %v", order.OrderID, err)
		return order
	}

	order.Status = model.OrderStatusExpired
	s.publishNotify(order)
	s.log.Infof("订单已过期: %s", order.OrderID)
	return order
}

// applyLazyExpiry 读取路径上的惰性过期检查
func (s *OrderService) applyLazyExpiry(ctx context.Context, order *model.Order) *model.Order {
	if order.Status == model.OrderStatusPending && time.Now().After(order.ExpiresAt) {
		return s.expireNow(ctx, order)
	}
	return order
}

// publishNotify 发送订单事件通知，MQ 未配置或发送失败只记日志
func (s *OrderService) publishNotify(order *model.Order) {
	if s.mqClient == nil {
		return
	}
	msg := &mq.OrderNotifyMessage{
		OrderID:     order.OrderID,
		ProductID:   order.ProductID,
		ProductName: order.ProductName,
		Amount:      order.Amount.String(),
		Credits:     order.Credits,
		Status:      string(order.Status),
		PaymentID:   order.PaymentID,
		Timestamp:   time.Now().Unix(),
	}
	if err := s.mqClient.PublishNotify(msg); err != nil {
		s.log.Warnf("发送订单通知失败 (订单: %s): %v", order.OrderID, err)
	}
}

// StartExpireConsumer 启动过期消息消费者（支持自动重连后重新订阅）
func (s *OrderService) StartExpireConsumer(ctx context.Context) {
	go s.runExpireConsumer(ctx)
	s.log.Infof("过期消息消费者已启动")
}

// runExpireConsumer 运行消费者，通道关闭后等待重连并重新订阅
func (s *OrderService) runExpireConsumer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("过期消费者已停止")
			return
		default:
		}

		if !s.mqClient.IsConnected() {
			time.Sleep(time.Second)
			continue
		}

		msgs, err := s.mqClient.ConsumeExpire()
		if err != nil {
			s.log.Warnf("订阅过期队列失败: %v, 等待重连...", err)
			time.Sleep(2 * time.Second)
			continue
		}

		s.consumeExpireMessages(ctx, msgs)

		s.log.Warnf("过期消费通道已关闭, 等待重连...")
		time.Sleep(2 * time.Second)
	}
}

// consumeExpireMessages 消费过期消息，直到 ctx 取消或通道关闭
func (s *OrderService) consumeExpireMessages(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			var data struct {
				OrderID string `json:"order_id"`
			}
			if err := json.Unmarshal(msg.Body, &data); err != nil {
				s.log.Errorf("解析过期消息失败: %v", err)
				msg.Nack(false, false)
				continue
			}

			if err := s.HandleExpiredOrder(ctx, data.OrderID); err != nil {
				s.log.Errorf("处理过期订单失败 (%s): %v", data.OrderID, err)
				msg.Nack(false, true) // requeue
				continue
			}

			msg.Ack(false)
		}
	}
}

const orderIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// generateOrderID 生成订单号: MX + 毫秒时间戳(base36) + 6位随机字符。
// 时间前缀便于排查，随机后缀防止被顺序枚举
func generateOrderID() string {
	ts := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	b := make([]byte, 6)
	for i := range b {
		b[i] = orderIDAlphabet[rand.Intn(len(orderIDAlphabet))]
	}
	return "MX" + ts + string(b)
}
