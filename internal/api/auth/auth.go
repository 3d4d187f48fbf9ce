package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskboard/internal/api/middleware"
	"taskboard/internal/model"
	"taskboard/internal/pkg/metrics"
	"taskboard/internal/pkg/notify"
	"taskboard/internal/pkg/ratelimit"
	"taskboard/internal/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// UserStore 定义 Handler 需要的用户存取操作。
type UserStore interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	CountUsers(ctx context.Context) (int64, error)
	CreateUser(ctx context.Context, user *model.User) error
	UpdateUser(ctx context.Context, id uint, updates map[string]interface{}) error
}

// Handler 提供注册、登录与个人资料接口。
type Handler struct {
	users     UserStore
	sessions  *session.Store
	limiter   *ratelimit.Limiter
	mailer    notify.Notifier
	logger    *slog.Logger
	jwtSecret []byte
	algorithm string
	tokenTTL  time.Duration
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, sessions *session.Store, limiter *ratelimit.Limiter, mailer notify.Notifier, logger *slog.Logger, jwtSecret string, algorithm string, tokenTTL time.Duration) *Handler {
	if algorithm == "" {
		algorithm = "HS256"
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{
		users:     users,
		sessions:  sessions,
		limiter:   limiter,
		mailer:    mailer,
		logger:    logger,
		jwtSecret: []byte(jwtSecret),
		algorithm: algorithm,
		tokenTTL:  tokenTTL,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateProfileRequest struct {
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// UserResponse 对外返回的用户信息（不含密码哈希）。
type UserResponse struct {
	ID              uint      `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	IsAdmin         bool      `json:"is_admin"`
	IsActive        bool      `json:"is_active"`
	EmailVerified   bool      `json:"email_verified"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        UserResponse `json:"user"`
}

type customClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// NewUserResponse 将用户模型转换为响应结构。
func NewUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		IsAdmin:         u.IsAdmin(),
		IsActive:        u.IsActive,
		EmailVerified:   u.EmailVerified,
		ProfileImageURL: u.ProfileImageURL,
		CreatedAt:       u.CreatedAt,
	}
}

// Register 创建新用户并立即签发 Token（注册即登录）。
//
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(strings.ToLower(req.Email))

	ctx := c.Request.Context()
	if _, err := h.users.FindByUsername(ctx, username); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return
	} else if !errors.Is(err, model.ErrUserNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if _, err := h.users.FindByEmail(ctx, email); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
		return
	} else if !errors.Is(err, model.ErrUserNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	// 第一个注册的用户自动成为管理员
	count, err := h.users.CountUsers(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count users failed"})
		return
	}
	role := model.RoleUser
	if count == 0 {
		role = model.RoleAdmin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := model.User{
		Username:      username,
		Email:         email,
		Password:      string(hash),
		Role:          role,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := h.users.CreateUser(ctx, &user); err != nil {
		// 并发注册撞上唯一索引时和查重命中一样报冲突
		if errors.Is(err, model.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email already exists"})
			return
		}
		if h.logger != nil {
			h.logger.Error("create user failed", slog.String("username", username), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	token, err := h.issueToken(ctx, &user)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("username", username), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	if h.mailer != nil {
		if err := h.mailer.SendWelcome(user.Email, user.Username); err != nil && h.logger != nil {
			h.logger.Warn("send welcome email failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		}
	}

	if h.logger != nil {
		h.logger.Info("user registered", slog.String("username", username), slog.String("role", role))
	}
	c.JSON(http.StatusCreated, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        NewUserResponse(&user),
	})
}

// Login 校验用户名密码并签发 Token。
//
// 未知用户与密码错误返回完全相同的 401 响应，避免泄露用户是否存在。
//
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	username := strings.TrimSpace(req.Username)
	ctx := c.Request.Context()

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, username+"|"+c.ClientIP())
		if err != nil {
			if h.logger != nil {
				h.logger.Warn("login ratelimit check failed", slog.String("error", err.Error()))
			}
			// 限流器故障时放行，登录本身还有 bcrypt 这道延迟闸
		} else if !allowed {
			metrics.LoginThrottledTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
			return
		}
	}

	user, err := h.users.FindByUsername(ctx, username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "account inactive"})
		return
	}

	token, err := h.issueToken(ctx, user)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("username", username), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("username", username), slog.String("role", user.Role))
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        NewUserResponse(user),
	})
}

// Logout 吊销当前请求携带的会话，Token 随之立即失效。
//
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionID)
	uid := currentUserID(c)
	if sid != "" && h.sessions != nil {
		if err := h.sessions.Invalidate(c.Request.Context(), sid, uid); err != nil {
			if h.logger != nil {
				h.logger.Error("invalidate session failed", slog.String("error", err.Error()))
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
		metrics.SessionsRevokedTotal.Inc()
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me 返回当前用户信息。
//
// GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, NewUserResponse(user))
}

// UpdateProfile 部分更新用户名/邮箱/头像链接。
//
// PUT /auth/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	updates := map[string]interface{}{}

	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if len(username) < 3 || len(username) > 50 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
			return
		}
		if username != user.Username {
			if other, err := h.users.FindByUsername(ctx, username); err == nil && other.ID != user.ID {
				c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
				return
			} else if err != nil && !errors.Is(err, model.ErrUserNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
				return
			}
			updates["username"] = username
		}
	}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email == "" || !strings.Contains(email, "@") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		if email != user.Email {
			if other, err := h.users.FindByEmail(ctx, email); err == nil && other.ID != user.ID {
				c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
				return
			} else if err != nil && !errors.Is(err, model.ErrUserNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
				return
			}
			updates["email"] = email
		}
	}
	if req.ProfileImageURL != nil {
		updates["profile_image_url"] = strings.TrimSpace(*req.ProfileImageURL)
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := h.users.UpdateUser(ctx, user.ID, updates); err != nil {
		if h.logger != nil {
			h.logger.Error("update profile failed", slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
		return
	}

	updated, err := h.users.GetUser(ctx, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return
	}
	c.JSON(http.StatusOK, NewUserResponse(updated))
}

// Sessions 返回当前用户的活跃会话列表。
//
// GET /auth/sessions
func (h *Handler) Sessions(c *gin.Context) {
	uid := currentUserID(c)
	if h.sessions == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []session.Session{}})
		return
	}
	sessions, err := h.sessions.List(c.Request.Context(), uid)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("list sessions failed", slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list sessions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// issueToken 签发 JWT 并登记对应会话。
func (h *Handler) issueToken(ctx context.Context, user *model.User) (string, error) {
	jti, err := session.NewID()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: user.Role,
	}

	method := jwt.GetSigningMethod(h.algorithm)
	if method == nil {
		return "", fmt.Errorf("unknown signing algorithm %q", h.algorithm)
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString(h.jwtSecret)
	if err != nil {
		return "", err
	}

	if h.sessions != nil {
		if err := h.sessions.Create(ctx, jti, user.ID); err != nil {
			return "", err
		}
	}
	return token, nil
}

func currentUser(c *gin.Context) *model.User {
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

func currentUserID(c *gin.Context) uint {
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
