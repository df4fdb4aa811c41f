package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"mx-pay/internal/config"
)

// 端到端手工测试：下单 -> 轮询 -> 模拟支付 -> 轮询到 paid -> 核销 -> 重复核销验证

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("========== mx-pay 端到端测试 ==========")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	baseURL := fmt.Sprintf("http://localhost:%d/api/payment", cfg.HTTPPort)
	client := &http.Client{Timeout: 10 * time.Second}

	// 步骤 1: 创建订单
	log.Println("步骤 1: 创建订单 (test-standard / alipay)")
	var created struct {
		OrderID    string `json:"orderId"`
		Amount     string `json:"amount"`
		PaymentURL string `json:"paymentUrl"`
		ExpiresAt  string `json:"expiresAt"`
	}
	if err := post(client, baseURL+"/create-order", map[string]string{
		"productId":     "test-standard",
		"paymentMethod": "alipay",
		"testType":      "birthday",
	}, &created); err != nil {
		log.Fatalf("创建订单失败: %v", err)
	}
	log.Printf("[OK] 订单创建成功: %s, 金额: %s, 过期时间: %s", created.OrderID, created.Amount, created.ExpiresAt)
	log.Printf("     支付链接: %s", created.PaymentURL)

	// 步骤 2: 轮询订单状态（参考前端 3 秒间隔）
	log.Println("步骤 2: 轮询订单状态")
	status := pollStatus(client, baseURL, created.OrderID)
	log.Printf("[OK] 当前状态: %s", status)

	// 步骤 3: 模拟支付
	log.Println("步骤 3: 模拟支付")
	var paid struct {
		OrderID    string `json:"orderId"`
		Status     string `json:"status"`
		RedeemCode string `json:"redeemCode"`
	}
	if err := post(client, baseURL+"/simulate-pay", map[string]string{
		"orderId": created.OrderID,
	}, &paid); err != nil {
		log.Fatalf("模拟支付失败: %v", err)
	}
	log.Printf("[OK] 支付成功, 核销码: %s", paid.RedeemCode)

	// 步骤 4: 轮询到 paid 后停止
	for i := 0; i < 10; i++ {
		if s := pollStatus(client, baseURL, created.OrderID); s == "paid" {
			log.Println("[OK] 轮询观察到 paid 状态")
			break
		}
		time.Sleep(3 * time.Second)
	}

	// 步骤 5: 核销
	log.Println("步骤 5: 使用核销码")
	var redeemed struct {
		ProductName string `json:"productName"`
		Credits     int    `json:"credits"`
	}
	if err := post(client, baseURL+"/redeem", map[string]string{
		"redeemCode": paid.RedeemCode,
	}, &redeemed); err != nil {
		log.Fatalf("核销失败: %v", err)
	}
	log.Printf("[OK] 核销成功: %s, 次数: %d", redeemed.ProductName, redeemed.Credits)

	// 步骤 6: 重复核销应失败
	log.Println("步骤 6: 重复核销（应失败）")
	err = post(client, baseURL+"/redeem", map[string]string{
		"redeemCode": paid.RedeemCode,
	}, nil)
	if err == nil {
		log.Fatalf("重复核销居然成功了, 单次使用约束被破坏")
	}
	log.Printf("[OK] 重复核销被拒绝: %v", err)

	log.Println("========== 测试通过 ==========")
}

// pollStatus 查询一次订单状态
func pollStatus(client *http.Client, baseURL, orderID string) string {
	resp, err := client.Get(baseURL + "/order/" + orderID)
	if err != nil {
		log.Fatalf("查询订单失败: %v", err)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatalf("解析订单响应失败: %v", err)
	}
	var data struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		log.Fatalf("解析订单数据失败: %v", err)
	}
	return data.Status
}

// post 发送 JSON 请求并解包统一响应
func post(client *http.Client, url string, payload interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if !body.Success {
		if body.Error != nil {
			return fmt.Errorf("%s: %s", body.Error.Code, body.Error.Message)
		}
		return fmt.Errorf("请求失败: %s", url)
	}
	if out != nil {
		return json.Unmarshal(body.Data, out)
	}
	return nil
}
