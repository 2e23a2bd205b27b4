package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"picking-sync-backend/config"
	"picking-sync-backend/internal/claim"
	"picking-sync-backend/internal/mw"
	"picking-sync-backend/internal/notification"
)

// NewRouter creates and configures the coordination service router.
func NewRouter(db *gorm.DB, machine *claim.Machine, cfg *config.ServerConfig, webpushOptions *webpush.Options, alerts *notification.WorkerPool) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(db, machine, cfg, webpushOptions, alerts)

	limit := rate.Limit(10)
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	rateLimiter := mw.RateLimiter(limit, 5)

	cacheTTL := 5 * time.Second
	if cfg.CacheTTLSeconds > 0 {
		cacheTTL = time.Duration(cfg.CacheTTLSeconds) * time.Second
	}
	cacheStore := cache.New(cacheTTL, 10*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.GET("/api/healthz", handler.Healthz)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/connect", handler.Connect)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)

		// Snapshot reads are cacheable for a short window; every mutation
		// below invalidates by letting the entry expire.
		api.GET("/orders/:order_id", caching, handler.GetOrder)

		api.POST("/orders/:order_id/claim", handler.AcquireClaim)
		api.POST("/orders/:order_id/claim/continue", handler.ContinueClaim)
		api.POST("/orders/:order_id/release", handler.ReleaseClaim)
		api.POST("/orders/:order_id/complete", handler.CompleteOrder)
		api.POST("/orders/:order_id/scan", handler.Scan)
		api.PUT("/orders/:order_id/lines/:line_id/quantity", handler.SetQuantity)
		api.POST("/orders/:order_id/lines", handler.AddManualItem)
		api.DELETE("/orders/:order_id/lines/:line_id", handler.RemoveItem)
		api.POST("/orders/:order_id/evidence", handler.UploadEvidence)

		api.POST("/dead-letters", handler.ReportDeadLetter)
		api.GET("/dead-letters", handler.ListDeadLetters)
	}

	return r
}
