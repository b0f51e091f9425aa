package metrics

import "fmt"

// Relay metrics. Per-channel series are created on first use.
var (
	MessagesForwarded    = Collector.Counter("relaybot_messages_forwarded_total", "Inbound messages handed to the assistant", "")
	MessagesUnregistered = Collector.Counter("relaybot_messages_unregistered_total", "Inbound messages from unregistered chats (metadata only)", "")
	MessagesSkipped      = Collector.Counter("relaybot_messages_skipped_total", "Inbound events with no deliverable content", "")
	ChunksSent           = Collector.Counter("relaybot_chunks_sent_total", "Outbound chunks delivered", "")
	FormatFallbacks      = Collector.Counter("relaybot_format_fallbacks_total", "Chunks resent as plain text after markup rejection", "")
	DeliveryFailures     = Collector.Counter("relaybot_delivery_failures_total", "Replies aborted by a send error", "")
	UsageRecordErrors    = Collector.Counter("relaybot_usage_record_errors_total", "Usage events the ledger failed to store", "")
	EventsAbandoned      = Collector.Counter("relaybot_events_abandoned_total", "Queued platform events discarded at disconnect", "")

	ConnectedChannels = Collector.Gauge("relaybot_connected_channels", "Channels currently connected", "")

	TranscriptionLatency = Collector.Histogram("relaybot_transcription_latency_seconds", "Speech-to-text request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60})
)

// Transcriptions counts voice pipeline outcomes by terminal state.
func Transcriptions(state string) *Counter {
	return Collector.Counter("relaybot_transcriptions_total", "Voice notes by pipeline outcome",
		fmt.Sprintf("state=%q", state))
}

// Inbound counts inbound events per channel.
func Inbound(channel string) *Counter {
	return Collector.Counter("relaybot_inbound_events_total", "Inbound platform events",
		fmt.Sprintf("channel=%q", channel))
}
