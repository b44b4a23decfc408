package handlers

import (
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"orderrec/internal/config"
	appmw "orderrec/internal/http/middleware"
)

// Deps are the collaborators of the request layer.
type Deps struct {
	Config      *config.Config
	Orders      OrderIngestor
	Recommender Recommender
	Jobs        JobRunner
	Health      Pinger
	Keys        appmw.KeyVerifier
	// OrderAuth enables bearer auth on order submission. The admin routes
	// always require a key.
	OrderAuth bool
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
}

// NewHandler builds the router and wraps it in the global middleware chain.
//
//nolint:gocritic // Deps carries a zerolog.Logger by value
func NewHandler(d Deps) fasthttp.RequestHandler {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	log := d.Logger

	r := router.New()
	r.SaveMatchedRoutePath = true
	r.PanicHandler = appmw.PanicHandler(log)

	orderAuth := appmw.BearerAuth(d.Keys, d.OrderAuth)
	adminAuth := appmw.BearerAuth(d.Keys, true)
	limit := appmw.RateLimit(d.Config.Serving.RateLimit, d.Config.Serving.RateBurst)

	r.GET("/healthz", Healthz(d.Health))
	r.GET("/metrics", Metrics(d.Gatherer))

	r.POST("/orders", limit(orderAuth(AddOrder(d.Orders, log))))
	r.GET("/orders", OrderExists(d.Orders, log))

	recommendations := Recommendations(d.Recommender, log)
	r.POST("/users", recommendations)
	r.GET("/v1/recommendations/{customer_id}", recommendations)

	r.POST("/admin/jobs/derive", adminAuth(RunDerive(d.Jobs, d.Config.Schedule.DeriveTimeout, log)))
	r.POST("/admin/jobs/retrain", adminAuth(RunRetrain(d.Jobs, d.Config.Schedule.RetrainTimeout, log)))

	return appmw.RequestLogger(log)(r.Handler)
}
