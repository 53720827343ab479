// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"helpdesk-smart-go/internal/config"
	"helpdesk-smart-go/internal/handler"
	"helpdesk-smart-go/internal/middleware"
	"helpdesk-smart-go/internal/model"
	"helpdesk-smart-go/internal/pipeline"
	"helpdesk-smart-go/internal/repository"
	"helpdesk-smart-go/internal/service"
	"helpdesk-smart-go/pkg/classifier"
	"helpdesk-smart-go/pkg/database"
	"helpdesk-smart-go/pkg/es"
	"helpdesk-smart-go/pkg/hash"
	"helpdesk-smart-go/pkg/kafka"
	"helpdesk-smart-go/pkg/log"
	"helpdesk-smart-go/pkg/storage"
	"helpdesk-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、MinIO、ES 与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 建表与种子数据
	if err := database.DB.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.Issue{},
		&model.UnknownQuery{},
		&model.ModelVersion{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	productRepository := repository.NewProductRepository(database.DB)
	issueRepository := repository.NewIssueRepository(database.DB)
	unknownQueryRepository := repository.NewUnknownQueryRepository(database.DB)
	modelVersionRepository := repository.NewModelVersionRepository(database.DB)
	leaseRepository := repository.NewLeaseRepository(database.RDB)

	seedCatalog(productRepository)
	seedAdminUser(userRepository)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	classifierClient := classifier.NewClient(cfg.Classifier)
	artifactStore := storage.NewArtifactStore(cfg.MinIO)
	userService := service.NewUserService(userRepository, jwtManager)
	productService := service.NewProductService(productRepository)
	triageService := service.NewTriageService(
		issueRepository,
		unknownQueryRepository,
		productRepository,
		modelVersionRepository,
		leaseRepository,
		classifierClient,
		artifactStore,
	)
	analyticsService := service.NewAnalyticsService(es.ESClient, cfg.Elasticsearch)

	// 6. 初始化事件入索引管道 (Processor)
	processor := pipeline.NewProcessor(cfg.Elasticsearch)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Product 路由组，需要认证
		products := apiV1.Group("/products")
		products.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			products.GET("", handler.NewProductHandler(productService).ListProducts)
		}

		// Issue 路由组，需要认证
		issues := apiV1.Group("/issues")
		issues.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			issues.POST("/classify", handler.NewIssueHandler(triageService).Classify)
			issues.GET("", handler.NewIssueHandler(triageService).SearchIssues)
		}

		// Chat 路由 (WebSocket)
		chatGroup := apiV1.Group("/chat")
		chatGroup.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatGroup.GET("/websocket-token", handler.NewChatHandler(triageService, userService, jwtManager).GetWebsocketToken)
		}
		r.GET("/chat/:token", handler.NewChatHandler(triageService, userService, jwtManager).Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.GET("/users", handler.NewUserHandler(userService).ListUsers)
			admin.GET("/issues/unknown", handler.NewIssueHandler(triageService).ListUnknownQueries)
			admin.PUT("/issues/unknown/:id", handler.NewIssueHandler(triageService).ResolveUnknownQuery)
			admin.POST("/issues/retrain", handler.NewIssueHandler(triageService).Retrain)
			admin.GET("/models", handler.NewIssueHandler(triageService).ListModelVersions)
			admin.GET("/analytics/search", handler.NewAnalyticsHandler(analyticsService).SearchEvents)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

// seedCatalog 以幂等方式写入初始产品目录。
// 分类服务把目录当作标签全集，目录为空时整个分诊流程无从谈起。
func seedCatalog(productRepo repository.ProductRepository) {
	names := []string{
		"Printer", "Scanner", "Laptop", "Monitor", "Keyboard",
		"Mouse", "Projector", "Fax machine", "Calculator", "Shredder",
		"Photocopier", "Whiteboard", "Paper shredder", "Desk lamp",
		"External hard drive", "Conference phone", "Label maker",
		"Document camera", "Wireless presenter", "USB hub",
	}

	for _, name := range names {
		_, err := productRepo.FindByName(name)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("seedCatalog: 查询产品 '%s' 失败: %v", name, err)
			continue
		}
		if err := productRepo.Create(&model.Product{Name: name}); err != nil {
			log.Warnf("seedCatalog: 写入产品 '%s' 失败: %v", name, err)
		}
	}
	log.Info("产品目录初始化完成")
}

// seedAdminUser 确保存在一个初始管理员账号（幂等）。
// 初始密码仅用于首次部署，上线后应立即修改。
func seedAdminUser(userRepo repository.UserRepository) {
	if _, err := userRepo.FindByUsername("admin"); err == nil {
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("seedAdminUser: 查询 admin 用户失败: %v", err)
		return
	}

	hashed, err := hash.HashPassword("admin123")
	if err != nil {
		log.Warnf("seedAdminUser: 密码哈希失败: %v", err)
		return
	}
	admin := &model.User{
		Username: "admin",
		Email:    "admin@example.com",
		Password: hashed,
		Role:     "ADMIN",
	}
	if err := userRepo.Create(admin); err != nil {
		log.Warnf("seedAdminUser: 写入 admin 用户失败: %v", err)
		return
	}
	log.Info("初始管理员账号创建完成")
}
