package yieldapi

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	userContextKey   = "ledger_user"
)

// NewSessionValidator builds the tauth cookie validator described by cfg.
func NewSessionValidator(cfg Config) (*sessionvalidator.Validator, error) {
	return sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
}

// NewRouter wires the HTTP routes. metricsHandler is mounted on /metrics when non-nil.
func NewRouter(cfg Config, handler *Handler, validator *sessionvalidator.Validator, metricsHandler http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.Use(handler.ensureSessionUser)

	api.GET("/me", handler.handleMe)
	api.POST("/deposits", handler.handleRequestDeposit)
	api.POST("/withdrawals", handler.handleRequestWithdrawal)
	api.POST("/purchases", handler.handleBuy)
	api.GET("/purchases", handler.handleListPurchases)
	api.GET("/purchases/:id", handler.handleGetPurchase)
	api.GET("/earnings", handler.handleListEarnings)
	api.GET("/earnings/summary", handler.handleEarningsSummary)
	api.POST("/earnings/credit-total", handler.handleCreditTotal)

	admin := api.Group("/admin")
	admin.Use(requireRole(cfg.AdminRole))
	admin.POST("/users", handler.handleEnsureUser)
	admin.POST("/deposits/:id/approve", handler.handleApproveDeposit)
	admin.POST("/deposits/:id/reject", handler.handleRejectDeposit)
	admin.POST("/withdrawals/:id/approve", handler.handleApproveWithdrawal)
	admin.POST("/withdrawals/:id/reject", handler.handleRejectWithdrawal)
	admin.POST("/withdrawals/:id/complete", handler.handleCompleteWithdrawal)
	admin.POST("/earnings/:id/credit", handler.handleCreditEarning)
	admin.POST("/earnings/:id/cancel", handler.handleCancelEarning)
	admin.POST("/purchases/:id/cancel", handler.handleCancelPurchase)
	admin.POST("/sweeps", handler.handleRunSweep)
	admin.GET("/earnings/status", handler.handleEarningsStatus)

	return router
}

// Serve runs router on cfg.ListenAddr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg Config, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func sessionUserID(ctx *gin.Context) ledger.UserID {
	value, _ := ctx.Get(userContextKey)
	userID, _ := value.(ledger.UserID)
	return userID
}

// ensureSessionUser makes the session subject a ledger user before any /api handler runs.
func (handler *Handler) ensureSessionUser(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user id"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.service.EnsureUser(requestCtx, userID, ledger.UserProfile{
		Username: claims.GetUserDisplayName(),
		Email:    claims.GetUserEmail(),
	}); err != nil {
		handler.writeError(ctx, err)
		ctx.Abort()
		return
	}
	ctx.Set(userContextKey, userID)
	ctx.Next()
}

func requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil || !slices.Contains(claims.GetUserRoles(), role) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
			return
		}
		ctx.Next()
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
