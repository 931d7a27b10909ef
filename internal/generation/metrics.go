package generation

import "expvar"

var (
	metricRequests    = expvar.NewInt("generation_requests_total")
	metricRetries     = expvar.NewInt("generation_retries_total")
	metricFallback    = expvar.NewInt("generation_fallback_total")
	metricPlaceholder = expvar.NewInt("generation_placeholder_total")
)
