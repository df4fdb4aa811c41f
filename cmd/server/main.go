package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mx-pay/internal/catalog"
	"mx-pay/internal/config"
	"mx-pay/internal/model"
	"mx-pay/internal/mq"
	"mx-pay/internal/payment"
	"mx-pay/internal/repository"
	"mx-pay/internal/server"
	"mx-pay/internal/service"
	"mx-pay/pkg/logger"

	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic("加载配置失败: " + err.Error())
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic("初始化日志失败: " + err.Error())
	}
	defer log.Sync()
	log.Infof("配置加载成功, 环境: %s, HTTP 端口: %d", cfg.Env, cfg.HTTPPort)

	// 2. 初始化存储：配置了数据库用 PostgreSQL，否则用进程内存储
	var (
		orderStore repository.OrderStore
		userStore  repository.UserStore
	)
	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			log.Errorf("连接数据库失败: %v", err)
			os.Exit(1)
		}
		if err := db.AutoMigrate(&model.Order{}, &model.User{}); err != nil {
			log.Errorf("数据库迁移失败: %v", err)
			os.Exit(1)
		}
		orderStore = repository.NewGormOrderStore(db)
		userStore = repository.NewGormUserStore(db)
		log.Infof("数据库连接成功")
	} else {
		orderStore = repository.NewMemoryOrderStore()
		userStore = repository.NewMemoryUserStore()
		log.Infof("未配置 DATABASE_URL, 使用进程内存储")
	}

	// 3. 连接 RabbitMQ（可选）
	var mqClient *mq.RabbitMQ
	if cfg.RabbitMQURL != "" {
		mqClient, err = mq.NewRabbitMQ(cfg.RabbitMQURL, cfg.OrderExpireMinutes, log)
		if err != nil {
			log.Errorf("连接 RabbitMQ 失败: %v", err)
			os.Exit(1)
		}
		defer mqClient.Close()
		log.Infof("RabbitMQ 连接成功")
	}

	// 4. 支付凭据生成器：生产环境走渠道适配器，否则走模拟二维码
	var generator payment.Generator
	if cfg.IsProduction() {
		pg := payment.NewProviderGenerator(time.Duration(cfg.ProviderTimeoutSec) * time.Second)
		pg.Register(model.PaymentMethodAlipay, &payment.AlipayAdapter{})
		pg.Register(model.PaymentMethodWechat, &payment.WechatAdapter{})
		generator = pg
	} else {
		generator = payment.NewMockGenerator(cfg.FrontendURL)
	}

	// 5. 初始化服务
	redeemSvc := service.NewRedeemService(orderStore, log)
	creditSvc := service.NewCreditService(userStore, log)
	orderSvc := service.NewOrderService(
		orderStore, catalog.Default(), generator, redeemSvc, creditSvc,
		mqClient, log, cfg.OrderExpireMinutes, cfg.IsProduction(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. 过期处理：有 MQ 用延时队列消费者，没有 MQ 用定时清理兜底
	var sweeper *cron.Cron
	if mqClient != nil {
		orderSvc.StartExpireConsumer(ctx)
	} else {
		sweeper = cron.New()
		if _, err := sweeper.AddFunc(cfg.SweepIntervalSpec, func() {
			orderSvc.SweepExpired(ctx)
		}); err != nil {
			log.Errorf("注册过期清理任务失败: %v", err)
			os.Exit(1)
		}
		sweeper.Start()
		log.Infof("过期清理任务已启动: %s", cfg.SweepIntervalSpec)
	}

	// 7. 启动 HTTP 服务
	httpServer := server.NewHTTPServer(orderSvc, log, cfg.HTTPPort)
	go func() {
		log.Infof("HTTP 服务已启动, 监听端口: %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP 服务异常: %v", err)
			os.Exit(1)
		}
	}()

	// 8. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infof("收到退出信号: %v", sig)

	cancel()
	if sweeper != nil {
		sweeper.Stop()
	}
	if err := httpServer.Shutdown(context.Background()); err != nil {
		log.Warnf("HTTP 服务关闭异常: %v", err)
	}
	log.Infof("服务已优雅退出")
}
