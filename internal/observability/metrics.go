package observability

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsportal_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// CacheLookups counts single-post cache lookups by result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsportal_post_cache_lookups_total",
		Help: "Post cache lookups by result",
	}, []string{"result"})

	// SubscriptionToggles counts subscription toggles by resulting state.
	SubscriptionToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsportal_subscription_toggles_total",
		Help: "Category subscription toggles by resulting state",
	}, []string{"state"})

	// PostWrites counts post writes by operation.
	PostWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsportal_post_writes_total",
		Help: "Post create/update/delete operations",
	}, []string{"operation"})
)

var (
	httpMetricsOnce sync.Once
	httpMetrics     *fiberprometheus.FiberPrometheus
)

// InitHTTPMetrics returns the process-wide Fiber Prometheus middleware.
// fiberprometheus registers its collectors on the default registry, so it
// must only be built once.
func InitHTTPMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	httpMetricsOnce.Do(func() {
		httpMetrics = fiberprometheus.New(serviceName)
	})
	return httpMetrics
}
