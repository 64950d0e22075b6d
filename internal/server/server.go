package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storefront/internal/auth"
	authdomain "github.com/smallbiznis/storefront/internal/auth/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/notification"
	notificationdomain "github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/observability"
	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	obstracing "github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/internal/order"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/order/receipt"
	"github.com/smallbiznis/storefront/internal/payment"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/product"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	auth.Module,
	product.Module,
	order.Module,
	realtime.Module,
	notification.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	authsvc         authdomain.Service
	authzSvc        authorization.Service
	orderSvc        orderdomain.Service
	receipts        *receipt.Renderer
	paymentSvc      paymentdomain.Service
	notificationSvc notificationdomain.Service
	hub             *realtime.Hub
	limiter         *ratelimit.Limiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Authsvc         authdomain.Service
	AuthzSvc        authorization.Service
	OrderSvc        orderdomain.Service
	Receipts        *receipt.Renderer
	PaymentSvc      paymentdomain.Service
	NotificationSvc notificationdomain.Service
	Hub             *realtime.Hub
	Limiter         *ratelimit.Limiter  `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		authsvc:         p.Authsvc,
		authzSvc:        p.AuthzSvc,
		orderSvc:        p.OrderSvc,
		receipts:        p.Receipts,
		paymentSvc:      p.PaymentSvc,
		notificationSvc: p.NotificationSvc,
		hub:             p.Hub,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerHubRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/register", s.RateLimit(ratelimit.PolicyLogin), s.Register)
	auth.POST("/login", s.RateLimit(ratelimit.PolicyLogin), s.Login)
	auth.POST("/refresh-token", s.RefreshToken)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	authed := api.Group("", s.AuthRequired())

	// -------- Orders --------
	authed.POST("/orders", s.RateLimit(ratelimit.PolicyCheckout), s.CreateOrder)
	authed.GET("/orders", s.ListMyOrders)
	authed.GET("/orders/:id", s.GetOrderByID)
	authed.GET("/orders/:id/receipt", s.DownloadReceipt)

	// -------- Payments --------
	authed.POST("/payments/create-intent", s.RateLimit(ratelimit.PolicyCheckout), s.CreatePaymentIntent)

	// -------- Notifications --------
	authed.GET("/notifications", s.ListNotifications)
	authed.GET("/notifications/unread-count", s.UnreadNotificationCount)
	authed.PUT("/notifications/read-all", s.MarkAllNotificationsRead)
	authed.PUT("/notifications/:id/read", s.MarkNotificationRead)
	authed.DELETE("/notifications/:id", s.DeleteNotification)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.GET("/orders", s.RequirePermission(authorization.ObjectOrder, authorization.ActionOrderViewAll), s.AdminListOrders)
	admin.GET("/orders/stats", s.RequirePermission(authorization.ObjectOrder, authorization.ActionOrderStats), s.AdminOrderStats)
	admin.PUT("/orders/:id/status", s.RequirePermission(authorization.ObjectOrder, authorization.ActionOrderUpdateStatus), s.AdminUpdateOrderStatus)
	admin.POST("/notifications/send", s.RequirePermission(authorization.ObjectNotification, authorization.ActionNotificationSend), s.AdminSendNotification)
}

func (s *Server) registerHubRoutes() {
	s.engine.GET("/hub/notifications", s.HubAuthRequired(), s.ServeNotificationHub)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
