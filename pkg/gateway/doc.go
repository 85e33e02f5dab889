/*
Package gateway serves CityPulse channels over WebSocket.

Each accepted connection is registered in a table owned by the Gateway and
keyed by a random connection id. A connection is served by exactly two
goroutines:

	           ┌────────────── Conn ───────────────┐
	peer ────► │ reader (HTTP handler goroutine)   │
	           │  - read limit, pong deadline      │
	           │  - rate.Limiter per connection    │
	           │  - subscribe / unsubscribe / ping │──► replies chan
	           │                                   │        │
	broker ──► │ subscriptions ──► shared wakeup ──┼──► writer goroutine ──► peer
	           │                                   │     - envelopes
	           │                                   │     - replies
	           │                                   │     - ping every PingInterval
	           └───────────────────────────────────┘

The writer is the only goroutine writing data frames, so writes never share
a lock across connections. It checks liveness before every send.

# Lifecycle

	Connecting ──upgrade──► Open ──subscribe──► Subscribed
	                         ▲                    │
	                         └──last unsubscribe──┘
	any state ──close / violation / shutdown──► Closing ──► Closed

/ws/events subscribes to "events" on open; /ws/sensors/{id} subscribes to
"sensor:<id>" only. Further channels are added with control frames.

# Control frames

	→ {"action":"subscribe","channel":"sensor:SENSOR_001"}
	← {"type":"ack","action":"subscribe","channel":"sensor:SENSOR_001"}

	→ {"action":"ping"}
	← {"type":"pong"}

	→ {"action":"publish"}
	← {"type":"error","code":"unknown_action","message":"unknown action \"publish\""}

Malformed JSON, unknown actions, invalid channels and rate limiting produce
an error reply and leave the connection open. Framing violations close it:

	binary frame          1003 unsupported data
	invalid UTF-8 text    1007 invalid frame payload data
	frame over ReadLimit  1009 message too big
	protocol error        1002 protocol error

# Data frames

Every published record is written as its own text frame:

	{"data":{"id":"...","event_type":"traffic","severity":"critical",...}}
	{"data":{"sensor_id":"SENSOR_001","value":41.2,"unit":"dB",...}}

# Polling fallback

Recent keeps the latest messages of each channel, fed by a broker tap, for
clients that cannot hold a WebSocket open. Entries carry the broker
sequence number so a poller can resume with "after".
*/
package gateway
