package wire

// Topics the client consumes and publishes. The event stream topic carries
// every message/thread delta; the response topic carries task acknowledgements
// correlated by echoed request_id.
const (
	TopicConnect     = "/q/connect"
	TopicEventStream = "/q/events"
	TopicResponse    = "/q/response"
	TopicTyping      = "/q/typing"
	TopicPresence    = "/q/presence"
	TopicReceipts    = "/q/receipts"
	TopicCalls       = "/q/calls"

	TopicTaskQueue    = "/q/tasks"
	TopicStreamCreate = "/q/stream_create"
	TopicStreamResume = "/q/stream_resume"
	TopicTypingOut    = "/q/typing_out"
	TopicPresenceOut  = "/q/presence_out"
	TopicDisconnect   = "/q/goodbye"
)

// SubscribeTopics is the fixed topic set subscribed on every connect.
var SubscribeTopics = []string{
	TopicEventStream,
	TopicResponse,
	TopicTyping,
	TopicPresence,
	TopicReceipts,
	TopicCalls,
}

// SubscribePayload is the control payload for TypeSubscribe/TypeUnsubscribe frames.
type SubscribePayload struct {
	Topics []string `json:"topics"`
}

// ConnectPayload announces the session identity as the first frame on a fresh
// tunnel. The broker drops the link without a close code when any field is
// stale, so the client id here must match the one in the handshake URL.
type ConnectPayload struct {
	AccountID string `json:"account_id"`
	ClientID  string `json:"client_id"`
	DeviceID  string `json:"device_id"`
	AppID     string `json:"app_id"`
	UserAgent string `json:"user_agent,omitempty"`
	// Chat visibility: true advertises the account as active to contacts.
	Visible bool `json:"chat_on"`
	// Capability bitmask the broker uses to gate delta shapes.
	Capabilities int `json:"cap"`
}

// CapVoipCompat is the capability set a current web client advertises.
const CapVoipCompat = 8
