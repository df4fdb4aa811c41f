package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mx-pay/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange 名称
	DelayExchange  = "payment.delay.exchange"
	ExpireExchange = "payment.expire.exchange"
	NotifyExchange = "payment.notify.exchange"

	// Queue 名称
	DelayQueue  = "payment.delay.queue"
	ExpireQueue = "payment.expire.queue"
	NotifyQueue = "payment.notify.queue"

	// Routing Key
	DelayRoutingKey  = "payment.delay"
	ExpireRoutingKey = "payment.expire"
	NotifyRoutingKey = "payment.notify"

	reconnectDelay = 3 * time.Second
)

// OrderNotifyMessage 订单事件通知（支付成功 / 过期）
type OrderNotifyMessage struct {
	OrderID     string `json:"order_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Amount      string `json:"amount"`
	Credits     int    `json:"credits"`
	Status      string `json:"status"`
	PaymentID   string `json:"payment_id,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// RabbitMQ 封装（支持自动重连）。
// 延时队列带 TTL 和死信交换机，到期消息进入过期队列触发订单过期处理
type RabbitMQ struct {
	url           string
	expireMinutes int
	log           logger.Logger

	conn    *amqp.Connection
	channel *amqp.Channel

	mu          sync.RWMutex
	isConnected bool
	done        chan struct{}
}

// NewRabbitMQ 创建 RabbitMQ 连接并声明队列拓扑
func NewRabbitMQ(url string, expireMinutes int, log logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:           url,
		expireMinutes: expireMinutes,
		log:           log,
		done:          make(chan struct{}),
	}

	if err := r.connect(); err != nil {
		return nil, err
	}

	go r.monitorConnection()
	return r, nil
}

// connect 建立连接并声明拓扑
func (r *RabbitMQ) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("打开 Channel 失败: %w", err)
	}

	r.conn = conn
	r.channel = ch
	r.isConnected = true

	if err := r.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		r.isConnected = false
		return err
	}
	return nil
}

// monitorConnection 监听连接关闭事件，断开后自动重连
func (r *RabbitMQ) monitorConnection() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		if conn == nil {
			time.Sleep(reconnectDelay)
			continue
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-r.done:
			return
		case err := <-notifyClose:
			if err != nil {
				r.log.Warnf("RabbitMQ 连接断开: %v", err)
			}

			r.mu.Lock()
			r.isConnected = false
			r.mu.Unlock()

			r.reconnect()
		}
	}
}

// reconnect 无限重连，服务退出时停止
func (r *RabbitMQ) reconnect() {
	attempt := 0
	for {
		select {
		case <-r.done:
			return
		default:
		}

		attempt++
		if err := r.connect(); err != nil {
			r.log.Warnf("RabbitMQ 重连失败 (第 %d 次): %v", attempt, err)
			time.Sleep(reconnectDelay)
			continue
		}

		r.log.Infof("RabbitMQ 重连成功")
		return
	}
}

// declareTopology 声明交换机和队列
func (r *RabbitMQ) declareTopology() error {
	for _, ex := range []string{ExpireExchange, NotifyExchange, DelayExchange} {
		if err := r.channel.ExchangeDeclare(ex, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("声明交换机 %s 失败: %w", ex, err)
		}
	}

	// 延时队列：消息 TTL 等于订单有效期，到期转入过期交换机
	ttlMs := int32(r.expireMinutes * 60 * 1000)
	_, err := r.channel.QueueDeclare(DelayQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":             ttlMs,
		"x-dead-letter-exchange":    ExpireExchange,
		"x-dead-letter-routing-key": ExpireRoutingKey,
	})
	if err != nil {
		return fmt.Errorf("声明延时队列失败: %w", err)
	}
	if err := r.channel.QueueBind(DelayQueue, DelayRoutingKey, DelayExchange, false, nil); err != nil {
		return fmt.Errorf("绑定延时队列失败: %w", err)
	}

	if _, err := r.channel.QueueDeclare(ExpireQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明过期队列失败: %w", err)
	}
	if err := r.channel.QueueBind(ExpireQueue, ExpireRoutingKey, ExpireExchange, false, nil); err != nil {
		return fmt.Errorf("绑定过期队列失败: %w", err)
	}

	if _, err := r.channel.QueueDeclare(NotifyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明通知队列失败: %w", err)
	}
	if err := r.channel.QueueBind(NotifyQueue, NotifyRoutingKey, NotifyExchange, false, nil); err != nil {
		return fmt.Errorf("绑定通知队列失败: %w", err)
	}

	return nil
}

// IsConnected 检查是否已连接
func (r *RabbitMQ) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isConnected
}

// PublishDelay 发送延时消息（订单过期检查）
func (r *RabbitMQ) PublishDelay(orderID string) error {
	body, err := json.Marshal(map[string]string{"order_id": orderID})
	if err != nil {
		return err
	}
	return r.publish(DelayExchange, DelayRoutingKey, body)
}

// PublishNotify 发送订单事件通知（支付成功 / 过期）
func (r *RabbitMQ) PublishNotify(msg *OrderNotifyMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.publish(NotifyExchange, NotifyRoutingKey, body)
}

func (r *RabbitMQ) publish(exchange, routingKey string, body []byte) error {
	r.mu.RLock()
	if !r.isConnected {
		r.mu.RUnlock()
		return fmt.Errorf("RabbitMQ 未连接")
	}
	ch := r.channel
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

// ConsumeExpire 消费过期队列
func (r *RabbitMQ) ConsumeExpire() (<-chan amqp.Delivery, error) {
	r.mu.RLock()
	if !r.isConnected {
		r.mu.RUnlock()
		return nil, fmt.Errorf("RabbitMQ 未连接")
	}
	ch := r.channel
	r.mu.RUnlock()

	// 唯一 consumer tag，避免重连时冲突
	consumerTag := fmt.Sprintf("expire-consumer-%d", time.Now().UnixNano())
	return ch.Consume(ExpireQueue, consumerTag, false, false, false, false, nil)
}

// Close 关闭连接
func (r *RabbitMQ) Close() {
	close(r.done)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.log.Warnf("关闭 RabbitMQ channel 失败: %v", err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.log.Warnf("关闭 RabbitMQ 连接失败: %v", err)
		}
	}
	r.isConnected = false
}
