package httptransport

import "expvar"

var (
	metricTurnSubmitTotal  = expvar.NewInt("turn_submit_total")
	metricTurnSubmitErrors = expvar.NewInt("turn_submit_errors_total")

	metricBeaconTotal  = expvar.NewInt("abandonment_beacon_total")
	metricBeaconErrors = expvar.NewInt("abandonment_beacon_errors_total")

	metricInternalErrors = expvar.NewInt("http_internal_errors_total")
)
