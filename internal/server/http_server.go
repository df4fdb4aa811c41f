package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mx-pay/internal/model"
	"mx-pay/internal/service"
	"mx-pay/pkg/errorutil"
	"mx-pay/pkg/logger"
)

// apiResponse 统一 API 响应
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    interface{}     `json:"data,omitempty"`
	Error   *errorutil.Error `json:"error,omitempty"`
}

// createOrderData 下单响应
type createOrderData struct {
	OrderID       string `json:"orderId"`
	Amount        string `json:"amount"`
	ProductName   string `json:"productName"`
	PaymentMethod string `json:"paymentMethod"`
	QRCode        string `json:"qrCode"`
	PaymentURL    string `json:"paymentUrl"`
	ExpiresAt     string `json:"expiresAt"`
}

// orderStatusData 订单状态快照，核销码只在 paid 状态下露出
type orderStatusData struct {
	OrderID     string  `json:"orderId"`
	Status      string  `json:"status"`
	Amount      string  `json:"amount"`
	ProductName string  `json:"productName"`
	RedeemCode  *string `json:"redeemCode"`
	PaidAt      *string `json:"paidAt"`
}

// orderListItem 订单列表条目
type orderListItem struct {
	OrderID     string  `json:"orderId"`
	ProductName string  `json:"productName"`
	Amount      string  `json:"amount"`
	Status      string  `json:"status"`
	RedeemCode  *string `json:"redeemCode"`
	CreatedAt   string  `json:"createdAt"`
	PaidAt      *string `json:"paidAt"`
}

var errUnauthorized = errorutil.New("UNAUTHORIZED", "请先登录", http.StatusUnauthorized)

// Handler HTTP 接口处理器
type Handler struct {
	orderSvc *service.OrderService
	log      logger.Logger
}

// NewHTTPServer 创建并返回 HTTP 服务器
func NewHTTPServer(orderSvc *service.OrderService, log logger.Logger, port int) *http.Server {
	h := &Handler{orderSvc: orderSvc, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/payment/create-order", h.handleCreateOrder)
	mux.HandleFunc("GET /api/payment/order/{orderID}", h.handleGetOrder)
	mux.HandleFunc("POST /api/payment/notify", h.handleNotify)
	mux.HandleFunc("POST /api/payment/simulate-pay", h.handleSimulatePay)
	mux.HandleFunc("POST /api/payment/redeem", h.handleRedeem)
	mux.HandleFunc("POST /api/payment/cancel", h.handleCancel)
	mux.HandleFunc("GET /api/payment/orders", h.handleListOrders)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: withCORS(mux),
	}
}

// withCORS CORS 头和预检请求处理
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// userID 从请求中取认证上下文（由上游认证网关注入，未登录为空）
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// handleHealth 健康检查
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	})
}

// handleCreateOrder 创建订单并返回支付二维码
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID     string `json:"productId"`
		PaymentMethod string `json:"paymentMethod"`
		TestType      string `json:"testType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, service.ErrMissingFields)
		return
	}

	result, err := h.orderSvc.CreateOrder(r.Context(), service.CreateOrderInput{
		ProductID:     req.ProductID,
		PaymentMethod: req.PaymentMethod,
		TestType:      req.TestType,
		UserID:        userID(r),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	order := result.Order
	writeSuccess(w, "", createOrderData{
		OrderID:       order.OrderID,
		Amount:        order.Amount.String(),
		ProductName:   order.ProductName,
		PaymentMethod: string(order.PaymentMethod),
		QRCode:        result.Artifact.QRCode,
		PaymentURL:    result.Artifact.PaymentURL,
		ExpiresAt:     order.ExpiresAt.Format(time.RFC3339),
	})
}

// handleGetOrder 查询订单状态（客户端轮询接口）
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrderStatus(r.Context(), r.PathValue("orderID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeSuccess(w, "", toStatusData(order))
}

// handleNotify 支付回调通知（支付宝/微信）。
// 响应是渠道约定的纯文本令牌而不是 JSON，重复回调回 SUCCESS
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID   string `json:"orderId"`
		PaymentID string `json:"paymentId"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeToken(w, "FAIL")
		return
	}

	h.log.Infof("收到支付回调: orderId=%s, paymentId=%s, status=%s", req.OrderID, req.PaymentID, req.Status)

	if req.Status != "success" {
		writeToken(w, "SUCCESS")
		return
	}

	_, err := h.orderSvc.ConfirmPaid(r.Context(), req.OrderID, req.PaymentID)
	if err != nil {
		h.log.Warnf("支付回调处理失败 (订单: %s): %v", req.OrderID, err)
		writeToken(w, "FAIL")
		return
	}
	writeToken(w, "SUCCESS")
}

// handleSimulatePay 模拟支付（开发环境使用）
func (h *Handler) handleSimulatePay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, service.ErrMissingFields)
		return
	}

	order, err := h.orderSvc.SimulatePay(r.Context(), req.OrderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeSuccess(w, "", map[string]interface{}{
		"orderId":    order.OrderID,
		"status":     string(order.Status),
		"redeemCode": order.RedeemCode,
		"paidAt":     formatTime(order.PaidAt),
	})
}

// handleRedeem 使用核销码
func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RedeemCode string `json:"redeemCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, service.ErrMissingRedeemCode)
		return
	}

	result, err := h.orderSvc.Redeem(r.Context(), req.RedeemCode)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeSuccess(w, "核销成功", map[string]interface{}{
		"productName": result.ProductName,
		"credits":     result.Credits,
	})
}

// handleCancel 取消订单
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, service.ErrMissingFields)
		return
	}

	order, err := h.orderSvc.Cancel(r.Context(), req.OrderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeSuccess(w, "", map[string]interface{}{
		"orderId": order.OrderID,
		"status":  string(order.Status),
	})
}

// handleListOrders 获取当前用户的订单列表（需要认证上下文）
func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, errUnauthorized)
		return
	}

	orders, err := h.orderSvc.ListUserOrders(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]orderListItem, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		items = append(items, orderListItem{
			OrderID:     o.OrderID,
			ProductName: o.ProductName,
			Amount:      o.Amount.String(),
			Status:      string(o.Status),
			RedeemCode:  exposedCode(o),
			CreatedAt:   o.CreatedAt.Format(time.RFC3339),
			PaidAt:      formatTime(o.PaidAt),
		})
	}

	writeSuccess(w, "", map[string]interface{}{
		"orders": items,
		"total":  len(items),
	})
}

// toStatusData 订单状态响应
func toStatusData(o *model.Order) orderStatusData {
	return orderStatusData{
		OrderID:     o.OrderID,
		Status:      string(o.Status),
		Amount:      o.Amount.String(),
		ProductName: o.ProductName,
		RedeemCode:  exposedCode(o),
		PaidAt:      formatTime(o.PaidAt),
	}
}

// exposedCode 核销码只在订单为 paid 时返回
func exposedCode(o *model.Order) *string {
	if o.Status == model.OrderStatusPaid && o.RedeemCode != "" {
		code := o.RedeemCode
		return &code
	}
	return nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// writeServiceError 业务错误按错误码回包，其余按 500 处理
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	if e := errorutil.FromError(err); e != nil {
		writeError(w, e)
		return
	}
	h.log.Errorf("请求处理失败: %v", err)
	writeError(w, errorutil.New("INTERNAL_ERROR", "服务器内部错误", http.StatusInternalServerError))
}

func writeSuccess(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, e *errorutil.Error) {
	writeJSON(w, e.HTTPStatus, apiResponse{Success: false, Error: e})
}

// writeToken 写入支付渠道约定的纯文本应答
func writeToken(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(token))
}

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
