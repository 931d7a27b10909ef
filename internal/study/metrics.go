package study

import "expvar"

var (
	metricRoleAssignTotal  = expvar.NewInt("study_role_assign_total")
	metricRoleAssignErrors = expvar.NewInt("study_role_assign_errors_total")

	metricMatchTotal    = expvar.NewInt("study_match_total")
	metricRequeueTotal  = expvar.NewInt("study_requeue_total")
	metricTimeoutTotal  = expvar.NewInt("study_requeue_timeout_total")
	metricAbandonTotal  = expvar.NewInt("study_abandon_total")
	metricRecoverTotal  = expvar.NewInt("study_recover_total")
	metricCompleteTotal = expvar.NewInt("study_complete_total")

	metricJanitorSweeps          = expvar.NewInt("study_janitor_sweeps_total")
	metricJanitorStaleMatched    = expvar.NewInt("study_janitor_stale_matched_total")
	metricJanitorStaleWaiting    = expvar.NewInt("study_janitor_stale_waiting_total")
	metricJanitorStalePreConsent = expvar.NewInt("study_janitor_stale_pre_consent_total")
	metricJanitorErrors          = expvar.NewInt("study_janitor_errors_total")
)
