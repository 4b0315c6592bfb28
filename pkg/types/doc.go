/*
Package types defines the data structures shared by every beacon component.

# Topics

Topics are a closed enumeration rather than free-form strings:

	TopicPublisherStatus  publisher_status
	TopicDeviceHealth     device_health
	TopicPlaybackEvents   playback_events
	TopicCampaignMetrics  campaign_metrics
	TopicSystemAlerts     system_alerts

Names only appear at the edges (configuration, wire frames, upstream records)
and are converted with ParseTopic. A TopicSet is a bitset over the enumeration
and is how configuration expresses which topics are enabled.

# Events

An Event carries the topic, the per-topic sequence number assigned at ingest,
the ingest time and the raw JSON payload. Sequence numbers start at 1 and
increase by one per topic, so a client that sees seq 7 followed by seq 9 knows
it missed an event (usually shed from its delivery queue) and can resubscribe
with Since set to 7 to replay what the store still holds.

# Wire frames

Clients send ControlFrame values:

	{"action":"subscribe","topic":"device_health","since":0}
	{"action":"unsubscribe","topic":"device_health"}
	{"action":"ping"}

The server answers with ServerFrame values tagged by Type: welcome, ack,
batch, error and pong. A batch never holds more than the configured batch size.

# Errors

Sentinel errors classify failures (ErrUnsupportedTopic, ErrTopicDisabled,
ErrLimitExceeded and its children, ErrStoreAllocation). Callers use errors.Is.
PollError carries the reason an upstream poll failed; it is logged and
retried, never fatal.
*/
package types
