package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"taskboard/internal/api/auth"
	"taskboard/internal/api/middleware"
	"taskboard/internal/api/statsgauge"
	"taskboard/internal/config"
	"taskboard/internal/model"
	"taskboard/internal/pkg/metrics"
	"taskboard/internal/pkg/notify"
	"taskboard/internal/pkg/ratelimit"
	"taskboard/internal/pkg/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端（会话存储与登录限流）以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	sessions  *session.Store
	todos     TodoStore
	users     middleware.UserResolver
	admins    AdminStore
	collector *statsgauge.Collector
}

// TodoStore 定义任务 handler 需要的存取操作。所有操作都以 userID 约束归属。
type TodoStore interface {
	ListTodos(ctx context.Context, userID uint, completed *bool) ([]model.Todo, error)
	GetTodo(ctx context.Context, userID, todoID uint) (*model.Todo, error)
	CreateTodo(ctx context.Context, todo *model.Todo) error
	UpdateTodo(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error
	DeleteTodo(ctx context.Context, userID, todoID uint) error
	CountTodos(ctx context.Context, userID uint) (total int64, completed int64, err error)
}

// AdminStore 定义管理接口需要的跨用户操作。
type AdminStore interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	// DeleteUserCascade 在一个事务里删除用户及其全部任务，返回删掉的任务数。
	DeleteUserCascade(ctx context.Context, id uint) (int64, error)
	SetUserRole(ctx context.Context, id uint, role string) error
	SiteStats(ctx context.Context) (SiteStats, error)
}

// SiteStats 是全站统计的聚合结果。
type SiteStats struct {
	Users          int64
	Admins         int64
	ActiveUsers    int64
	Todos          int64
	CompletedTodos int64
}

type dbTodoStore struct {
	db *gorm.DB
}

func (s dbTodoStore) ListTodos(ctx context.Context, userID uint, completed *bool) ([]model.Todo, error) {
	todos := []model.Todo{} // 保证 JSON 输出为 [] 而不是 null
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if completed != nil {
		query = query.Where("completed = ?", *completed)
	}
	if err := query.Order("created_at DESC").Find(&todos).Error; err != nil {
		return nil, err
	}
	return todos, nil
}

func (s dbTodoStore) GetTodo(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
	var todo model.Todo
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", todoID, userID).First(&todo).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, model.ErrTodoNotFound
		}
		return nil, err
	}
	return &todo, nil
}

func (s dbTodoStore) CreateTodo(ctx context.Context, todo *model.Todo) error {
	return s.db.WithContext(ctx).Create(todo).Error
}

func (s dbTodoStore) UpdateTodo(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&model.Todo{}).
		Where("id = ? AND user_id = ?", todoID, userID).
		Updates(updates).Error
}

func (s dbTodoStore) DeleteTodo(ctx context.Context, userID, todoID uint) error {
	return s.db.WithContext(ctx).Where("id = ? AND user_id = ?", todoID, userID).Delete(&model.Todo{}).Error
}

func (s dbTodoStore) CountTodos(ctx context.Context, userID uint) (int64, int64, error) {
	var total, completed int64
	if err := s.db.WithContext(ctx).Model(&model.Todo{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.WithContext(ctx).Model(&model.Todo{}).Where("user_id = ? AND completed = ?", userID, true).Count(&completed).Error; err != nil {
		return 0, 0, err
	}
	return total, completed, nil
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis（会话存储、登录限流）
// 3. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Todo{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	sessions := session.NewStore(rdb, cfg.Security.TokenTTL)
	limiter := ratelimit.NewLoginLimiter(rdb, cfg.Security.LoginRateLimit, cfg.Security.LoginRateBurst)
	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	users := auth.NewDBUserStore(db)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	// SPA 跑在另一个源上，放开跨域
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsCfg))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		sessions: sessions,
		auth: auth.NewHandler(
			users,
			sessions,
			limiter,
			mailer,
			logger,
			cfg.Security.JWTSecret,
			cfg.Security.JWTAlgorithm,
			cfg.Security.TokenTTL,
		),
		todos:     dbTodoStore{db: db},
		users:     users,
		admins:    dbAdminStore{db: db},
		collector: statsgauge.NewCollector(db, logger, cfg.App.StatsInterval),
	}
	s.registerRoutes(users)
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartCollector 启动后台统计指标刷新。
func (s *Server) StartCollector(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in stats collector", slog.Any("panic", r))
			}
		}()
		s.collector.Run(ctx)
	}()
}

// Close 关闭数据库与 Redis 连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes(users *auth.DBUserStore) {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/auth/register", s.auth.Register)
	s.router.POST("/auth/login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.cfg.Security.JWTAlgorithm, users, s.sessions))
	authed.Use(middleware.SessionActivityMiddleware(s.sessions))

	authed.POST("/auth/logout", s.auth.Logout)
	authed.GET("/auth/me", s.auth.Me)
	authed.PUT("/auth/profile", s.auth.UpdateProfile)
	authed.GET("/auth/sessions", s.auth.Sessions)

	authed.GET("/todos", s.handleListTodos)
	authed.POST("/todos", s.handleCreateTodo)
	authed.GET("/todos/:id", s.handleGetTodo)
	authed.PUT("/todos/:id", s.handleUpdateTodo)
	authed.DELETE("/todos/:id", s.handleDeleteTodo)

	authed.GET("/stats", s.handleStats)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.GET("/users", s.handleAdminListUsers)
	admin.GET("/users/:id", s.handleAdminGetUser)
	admin.GET("/users/:id/todos", s.handleAdminListUserTodos)
	admin.DELETE("/users/:id", s.handleAdminDeleteUser)
	admin.PUT("/users/:id/role", s.handleAdminToggleRole)
	admin.GET("/stats", s.handleAdminStats)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func getUserID(c *gin.Context) uint {
	v, ok := c.Get(middleware.CtxUserID)
	if !ok {
		return 0
	}
	id, ok := v.(uint)
	if !ok {
		return 0
	}
	return id
}

func getUser(c *gin.Context) *model.User {
	v, ok := c.Get(middleware.CtxUser)
	if !ok {
		return nil
	}
	user, ok := v.(*model.User)
	if !ok {
		return nil
	}
	return user
}
