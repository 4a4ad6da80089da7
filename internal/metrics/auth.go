package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(authDeniedTotal) }

var authDeniedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_denied_total",
		Help:      "Requests rejected by the authorizer.",
	},
	[]string{"reason"},
)

// IncAuthDenied counts a rejected request
func IncAuthDenied(reason string) {
	authDeniedTotal.WithLabelValues(norm(reason)).Inc()
}
