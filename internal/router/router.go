package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	authH         Handler
	patientH      Handler
	treatmentH    Handler
	userH         Handler
	notificationH Handler
	dashboardH    Handler
	streamH       Handler
	healthH       Handler
	h             *handler.Handler
	metrics       *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type Config struct {
	RateLimit     rate.Limit
	RateBurst     int
	CORSConfig    middleware.CORSConfig
	MetricsPrefix string
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	authH Handler,
	patientH Handler,
	treatmentH Handler,
	userH Handler,
	notificationH Handler,
	dashboardH Handler,
	streamH Handler,
	healthH Handler,
	h *handler.Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	metrics := initRouterMetrics(config.MetricsPrefix)

	r := &Router{
		engine:        engine,
		auth:          auth,
		authH:         authH,
		patientH:      patientH,
		treatmentH:    treatmentH,
		userH:         userH,
		notificationH: notificationH,
		dashboardH:    dashboardH,
		streamH:       streamH,
		healthH:       healthH,
		h:             h,
		metrics:       metrics,
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		r.metricsMiddleware(),
	)
	engine.Use(middleware.CORS(config.CORSConfig))

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	return r
}

func (r *Router) Setup() {
	// Probes and metrics live at the root, outside the versioned API.
	r.healthH.RegisterRoutes(&r.engine.RouterGroup)
	r.engine.GET("/metrics", r.h.MetricsHandler)

	api := r.engine.Group("/api/v1")

	// Public routes
	r.authH.RegisterRoutes(api)

	// Everything else requires an authenticated, approved account.
	protected := api.Group("")
	protected.Use(
		r.auth.Authenticate(),
		r.auth.RequireApproved(),
	)
	r.patientH.RegisterRoutes(protected)
	r.treatmentH.RegisterRoutes(protected)
	r.userH.RegisterRoutes(protected)
	r.notificationH.RegisterRoutes(protected)
	r.dashboardH.RegisterRoutes(protected)
	r.streamH.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string) *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "http").Inc()
		}
	}
}
