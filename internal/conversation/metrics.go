package conversation

import "expvar"

var (
	metricPeerTurns      = expvar.NewInt("conversation_peer_turns_total")
	metricGeneratedTurns = expvar.NewInt("conversation_generated_turns_total")
)
