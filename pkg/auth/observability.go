package auth

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokenRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "acsmail_token_refresh_total",
		Help: "Total number of service-principal token refresh attempts",
	},
	[]string{"outcome"},
)

func recordTokenRefresh(outcome string) {
	trimmed := strings.TrimSpace(outcome)
	if trimmed == "" {
		trimmed = "unknown"
	}
	tokenRefreshTotal.WithLabelValues(trimmed).Inc()
}
