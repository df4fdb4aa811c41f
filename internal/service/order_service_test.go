package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"mx-pay/internal/catalog"
	"mx-pay/internal/model"
	"mx-pay/internal/payment"
	"mx-pay/internal/repository"
	"mx-pay/pkg/errorutil"
	"mx-pay/pkg/logger"

	"github.com/shopspring/decimal"
)

type testEnv struct {
	orderSvc   *OrderService
	orderStore *repository.MemoryOrderStore
	userStore  *repository.MemoryUserStore
}

func newTestEnv(t *testing.T, production bool) *testEnv {
	t.Helper()
	orderStore := repository.NewMemoryOrderStore()
	userStore := repository.NewMemoryUserStore()
	log := logger.NewNop()

	redeemSvc := NewRedeemService(orderStore, log)
	creditSvc := NewCreditService(userStore, log)
	generator := payment.NewMockGenerator("http://localhost:5173")
	orderSvc := NewOrderService(orderStore, catalog.Default(), generator, redeemSvc, creditSvc, nil, log, 30, production)

	return &testEnv{orderSvc: orderSvc, orderStore: orderStore, userStore: userStore}
}

func (e *testEnv) createUser(t *testing.T, userID string) {
	t.Helper()
	if err := e.userStore.Create(context.Background(), &model.User{UserID: userID, Phone: "13800000000"}); err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}
}

func (e *testEnv) userCredits(t *testing.T, userID string) int {
	t.Helper()
	user, err := e.userStore.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("查询用户失败: %v", err)
	}
	return user.Credits
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	result, err := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID:     "test-standard",
		PaymentMethod: "alipay",
		TestType:      "birthday",
		UserID:        "u1",
	})
	if err != nil {
		t.Fatalf("创建订单失败: %v", err)
	}

	order := result.Order
	if order.Status != model.OrderStatusPending {
		t.Errorf("期望状态 pending, 实际 %s", order.Status)
	}
	if !order.Amount.Equal(decimal.NewFromFloat(29.9)) {
		t.Errorf("期望金额 29.9, 实际 %s", order.Amount)
	}
	if order.Credits != 1 {
		t.Errorf("期望积分 1, 实际 %d", order.Credits)
	}
	if order.ProductName != "标准测试" {
		t.Errorf("期望商品名 标准测试, 实际 %s", order.ProductName)
	}
	if !strings.HasPrefix(order.OrderID, "MX") {
		t.Errorf("订单号应以 MX 开头: %s", order.OrderID)
	}
	ttl := time.Until(order.ExpiresAt)
	if ttl < 29*time.Minute || ttl > 31*time.Minute {
		t.Errorf("订单有效期应约为 30 分钟, 实际 %v", ttl)
	}
	if result.Artifact.PaymentURL == "" || result.Artifact.QRCode == "" {
		t.Error("支付凭据不应为空")
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateOrderInput
		want  string
	}{
		{"缺少商品", CreateOrderInput{PaymentMethod: "alipay"}, "MISSING_FIELDS"},
		{"缺少支付方式", CreateOrderInput{ProductID: "test-basic"}, "MISSING_FIELDS"},
		{"不支持的支付方式", CreateOrderInput{ProductID: "test-basic", PaymentMethod: "paypal"}, "INVALID_PAYMENT_METHOD"},
		{"商品不存在", CreateOrderInput{ProductID: "no-such", PaymentMethod: "wechat"}, "PRODUCT_NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.orderSvc.CreateOrder(ctx, tc.input)
			if !errorutil.IsCode(err, tc.want) {
				t.Errorf("期望错误码 %s, 实际 %v", tc.want, err)
			}
		})
	}
}

func TestConfirmPaid(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.createUser(t, "u1")

	result, _ := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "test-standard", PaymentMethod: "alipay", UserID: "u1",
	})

	order, err := env.orderSvc.ConfirmPaid(ctx, result.Order.OrderID, "P1")
	if err != nil {
		t.Fatalf("确认支付失败: %v", err)
	}
	if order.Status != model.OrderStatusPaid {
		t.Errorf("期望状态 paid, 实际 %s", order.Status)
	}
	if len(order.RedeemCode) != 8 {
		t.Errorf("核销码应为 8 位, 实际 %q", order.RedeemCode)
	}
	if order.PaymentID != "P1" {
		t.Errorf("期望支付流水号 P1, 实际 %s", order.PaymentID)
	}
	if order.PaidAt == nil {
		t.Error("PaidAt 未设置")
	}
	if got := env.userCredits(t, "u1"); got != 1 {
		t.Errorf("期望用户积分 1, 实际 %d", got)
	}
}

func TestConfirmPaid_Idempotent(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.createUser(t, "u1")

	result, _ := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "test-standard", PaymentMethod: "alipay", UserID: "u1",
	})
	orderID := result.Order.OrderID

	first, err := env.orderSvc.ConfirmPaid(ctx, orderID, "P1")
	if err != nil {
		t.Fatalf("首次确认失败: %v", err)
	}

	// 渠道重试回调，携带不同的流水号
	second, err := env.orderSvc.ConfirmPaid(ctx, orderID, "P2")
	if err != nil {
		t.Fatalf("重复确认应幂等成功: %v", err)
	}
	if second.Status != model.OrderStatusPaid {
		t.Errorf("期望状态 paid, 实际 %s", second.Status)
	}
	if second.RedeemCode != first.RedeemCode {
		t.Errorf("重复确认不应生成新核销码: %s != %s", second.RedeemCode, first.RedeemCode)
	}
	if second.PaymentID != "P1" {
		t.Errorf("重复确认不应覆盖支付流水号: %s", second.PaymentID)
	}
	if got := env.userCredits(t, "u1"); got != 1 {
		t.Errorf("重复确认不应重复加积分, 实际 %d", got)
	}
}

func TestConfirmPaid_Concurrent(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.createUser(t, "u1")

	result, _ := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "test-premium", PaymentMethod: "wechat", UserID: "u1",
	})
	orderID := result.Order.OrderID

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.orderSvc.ConfirmPaid(ctx, orderID, "P1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("并发确认 %d 失败: %v", i, err)
		}
	}
	if got := env.userCredits(t, "u1"); got != 3 {
		t.Errorf("并发确认只应加一次积分 (3), 实际 %d", got)
	}
}

func TestConfirmPaid_Expired(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	// 直接落一个已过期的 pending 订单
	order := &model.Order{
		OrderID:       "MXEXPIRED1",
		ProductID:     "test-basic",
		ProductName:   "基础测试",
		Amount:        decimal.NewFromFloat(19.9),
		Credits:       1,
		PaymentMethod: model.PaymentMethodAlipay,
		Status:        model.OrderStatusPending,
		CreatedAt:     time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(-30 * time.Minute),
	}
	if err := env.orderStore.Create(ctx, order); err != nil {
		t.Fatal(err)
	}

	_, err := env.orderSvc.ConfirmPaid(ctx, order.OrderID, "P1")
	if !errorutil.IsCode(err, "ORDER_EXPIRED") {
		t.Fatalf("过期订单确认应返回 ORDER_EXPIRED, 实际 %v", err)
	}

	got, _ := env.orderSvc.GetOrderStatus(ctx, order.OrderID)
	if got.Status != model.OrderStatusExpired {
		t.Errorf("期望状态 expired, 实际 %s", got.Status)
	}
	if got.RedeemCode != "" {
		t.Error("过期订单不应持有核销码")
	}
}

func TestGetOrderStatus_LazyExpiry(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	order := &model.Order{
		OrderID:       "MXLAZY0001",
		ProductID:     "test-basic",
		ProductName:   "基础测试",
		Amount:        decimal.NewFromFloat(19.9),
		Credits:       1,
		PaymentMethod: model.PaymentMethodWechat,
		Status:        model.OrderStatusPending,
		CreatedAt:     time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(-time.Minute),
	}
	if err := env.orderStore.Create(ctx, order); err != nil {
		t.Fatal(err)
	}

	got, err := env.orderSvc.GetOrderStatus(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.Status != model.OrderStatusExpired {
		t.Errorf("读取应触发惰性过期, 实际 %s", got.Status)
	}
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, false)
	_, err := env.orderSvc.GetOrderStatus(context.Background(), "MXNOPE")
	if !errorutil.IsCode(err, "ORDER_NOT_FOUND") {
		t.Errorf("期望 ORDER_NOT_FOUND, 实际 %v", err)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	result, _ := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "test-basic", PaymentMethod: "alipay",
	})

	order, err := env.orderSvc.Cancel(ctx, result.Order.OrderID)
	if err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	if order.Status != model.OrderStatusCancelled {
		t.Errorf("期望状态 cancelled, 实际 %s", order.Status)
	}

	// 已取消的订单再确认：幂等返回，不铸码不加积分
	confirmed, err := env.orderSvc.ConfirmPaid(ctx, order.OrderID, "P1")
	if err != nil {
		t.Fatalf("取消后确认应幂等返回: %v", err)
	}
	if confirmed.Status != model.OrderStatusCancelled {
		t.Errorf("取消后确认不应改变状态, 实际 %s", confirmed.Status)
	}
	if confirmed.RedeemCode != "" {
		t.Error("取消后确认不应生成核销码")
	}
}

func TestCancel_NonPending(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	result, _ := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "test-basic", PaymentMethod: "alipay",
	})
	if _, err := env.orderSvc.ConfirmPaid(ctx, result.Order.OrderID, "P1"); err != nil {
		t.Fatal(err)
	}

	_, err := env.orderSvc.Cancel(ctx, result.Order.OrderID)
	if !errorutil.IsCode(err, "INVALID_ORDER_STATUS") {
		t.Errorf("已支付订单取消应返回 INVALID_ORDER_STATUS, 实际 %v", err)
	}

	_, err = env.orderSvc.Cancel(ctx, "MXNOPE")
	if !errorutil.IsCode(err, "ORDER_NOT_FOUND") {
		t.Errorf("未知订单取消应返回 ORDER_NOT_FOUND, 实际 %v", err)
	}
}

func TestSimulatePay(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	result, _ := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "credits-5", PaymentMethod: "wechat",
	})

	order, err := env.orderSvc.SimulatePay(ctx, result.Order.OrderID)
	if err != nil {
		t.Fatalf("模拟支付失败: %v", err)
	}
	if order.Status != model.OrderStatusPaid {
		t.Errorf("期望状态 paid, 实际 %s", order.Status)
	}
	if !strings.HasPrefix(order.PaymentID, "SIM_") {
		t.Errorf("模拟支付流水号应以 SIM_ 开头: %s", order.PaymentID)
	}

	// 非 pending 订单模拟支付报状态异常
	_, err = env.orderSvc.SimulatePay(ctx, result.Order.OrderID)
	if !errorutil.IsCode(err, "INVALID_ORDER_STATUS") {
		t.Errorf("期望 INVALID_ORDER_STATUS, 实际 %v", err)
	}
}

func TestSimulatePay_Production(t *testing.T) {
	env := newTestEnv(t, true)
	_, err := env.orderSvc.SimulatePay(context.Background(), "MXANY")
	if !errorutil.IsCode(err, "NOT_ALLOWED") {
		t.Errorf("生产环境模拟支付应返回 NOT_ALLOWED, 实际 %v", err)
	}
}

func TestListUserOrders(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	var last string
	for _, p := range []string{"test-basic", "test-standard", "test-premium"} {
		result, err := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
			ProductID: p, PaymentMethod: "alipay", UserID: "u1",
		})
		if err != nil {
			t.Fatal(err)
		}
		last = result.Order.OrderID
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "test-basic", PaymentMethod: "alipay", UserID: "u2",
	}); err != nil {
		t.Fatal(err)
	}

	orders, err := env.orderSvc.ListUserOrders(ctx, "u1")
	if err != nil {
		t.Fatalf("查询列表失败: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("期望 3 笔订单, 实际 %d", len(orders))
	}
	if orders[0].OrderID != last {
		t.Errorf("列表应按创建时间倒序, 首条应为 %s, 实际 %s", last, orders[0].OrderID)
	}
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	expired := &model.Order{
		OrderID:       "MXSWEEP001",
		ProductID:     "test-basic",
		ProductName:   "基础测试",
		Amount:        decimal.NewFromFloat(19.9),
		Credits:       1,
		PaymentMethod: model.PaymentMethodAlipay,
		Status:        model.OrderStatusPending,
		CreatedAt:     time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(-time.Minute),
	}
	if err := env.orderStore.Create(ctx, expired); err != nil {
		t.Fatal(err)
	}
	fresh, _ := env.orderSvc.CreateOrder(ctx, CreateOrderInput{
		ProductID: "test-basic", PaymentMethod: "alipay",
	})

	env.orderSvc.SweepExpired(ctx)

	got, _ := env.orderStore.Get(ctx, expired.OrderID)
	if got.Status != model.OrderStatusExpired {
		t.Errorf("过期订单应被清理为 expired, 实际 %s", got.Status)
	}
	got, _ = env.orderStore.Get(ctx, fresh.Order.OrderID)
	if got.Status != model.OrderStatusPending {
		t.Errorf("未过期订单不应被清理, 实际 %s", got.Status)
	}
}
