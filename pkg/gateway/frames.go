package gateway

import "encoding/json"

// Inbound actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Reply types
const (
	ReplyAck   = "ack"
	ReplyError = "error"
	ReplyPong  = "pong"
)

// Error codes carried by error replies. None of them closes the connection.
const (
	CodeInvalidJSON          = "invalid_json"
	CodeUnknownAction        = "unknown_action"
	CodeInvalidChannel       = "invalid_channel"
	CodeRateLimited          = "rate_limited"
	CodeTooManySubscriptions = "too_many_subscriptions"
	CodeUnavailable          = "unavailable"
)

// Frame is an inbound control frame
type Frame struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// Reply is an outbound control frame
type Reply struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Channel string `json:"channel,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func ackReply(action, channel string) Reply {
	return Reply{Type: ReplyAck, Action: action, Channel: channel}
}

func errorReply(code, message string) Reply {
	return Reply{Type: ReplyError, Code: code, Message: message}
}

func (r Reply) encode() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// Reply holds only strings
		panic(err)
	}
	return b
}
