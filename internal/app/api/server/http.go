package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/billingd/internal/app/api/handlers"
	mw "github.com/fatflowers/billingd/internal/app/api/middleware"
	"github.com/fatflowers/billingd/internal/app/repo"
	authsvc "github.com/fatflowers/billingd/internal/app/service/authorization"
	paysvc "github.com/fatflowers/billingd/internal/app/service/payment"
	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/app/service/usage"
	"github.com/fatflowers/billingd/internal/app/service/webhook"
	cfgpkg "github.com/fatflowers/billingd/pkg/config"
	metrics "github.com/fatflowers/billingd/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(r *gin.Engine, log *zap.SugaredLogger, cfg *cfgpkg.Config, store repo.Store, ing *webhook.Ingestor, auth *authsvc.Service, sub *subsvc.Service, pay *paysvc.Service, gate *usage.Gate) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)

	// Gateway callbacks. The ack contract lives in the response body, so no
	// response-shaping middleware is mounted here.
	wh := r.Group("/webhooks")
	wh.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterWebhookRoutes(wh, ing)
	wh.GET("/health", handlers.ApiWebhookHealth(store))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterBillingRoutes(apiV1.Group("/billing"), auth, sub)
	handlers.RegisterUsageRoutes(apiV1.Group("/usage"), gate)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), pay, store)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
