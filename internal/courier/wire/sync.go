package wire

import "encoding/json"

// StreamCreate is the bootstrap publish sent on the very first connect, when
// only the initial sequence id is known.
type StreamCreate struct {
	InitialSequenceID int64  `json:"initial_sequence_id"`
	DeviceID          string `json:"device_id"`
	MaxDeltas         int    `json:"max_deltas_needed,omitempty"`
}

// StreamResume is the bootstrap publish sent on every later connect, replaying
// the full cursor so the server sends only the delta since it.
type StreamResume struct {
	LastSequenceID int64  `json:"last_seq_id"`
	SyncToken      string `json:"sync_token"`
	DeviceID       string `json:"device_id"`
	MaxDeltas      int    `json:"max_deltas_needed,omitempty"`
}

// SyncPayload is the outer envelope of every event-stream frame. The sequence
// id, when present, is applied to the cursor before the deltas are processed.
type SyncPayload struct {
	FirstSequenceID int64             `json:"first_seq_id,omitempty"`
	LastSequenceID  int64             `json:"last_seq_id,omitempty"`
	SyncToken       string            `json:"sync_token,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	Deltas          []json.RawMessage `json:"deltas,omitempty"`
}

// Delta discriminant tags observed on the event stream.
const (
	DeltaClassNewMessage         = "NewMessage"
	DeltaClassClientPayload      = "ClientPayload"
	DeltaClassReadReceipt        = "ReadReceipt"
	DeltaClassMarkRead           = "MarkRead"
	DeltaClassThreadName         = "ThreadName"
	DeltaClassParticipantsAdded  = "ParticipantsAddedToGroupThread"
	DeltaClassParticipantLeft    = "ParticipantLeftGroupThread"
	DeltaClassAdminText          = "AdminTextMessage"
	DeltaClassPresence           = "Presence"
	DeltaClassTyping             = "Typing"
)

// AdminText subtypes carried in the "type" field of AdminTextMessage deltas.
const (
	AdminTypeThemeChange        = "change_thread_theme"
	AdminTypeIconChange         = "change_thread_icon"
	AdminTypeNicknameChange     = "change_thread_nickname"
	AdminTypeAdminChange        = "change_thread_admins"
	AdminTypeApprovalModeChange = "change_thread_approval_mode"
	AdminTypePollChange         = "group_poll"
	AdminTypeCallLog            = "call_log"
)

// ThreadKey addresses a conversation: exactly one of ThreadID (multi-party
// thread) or OtherUserID (single-recipient conversation) is populated.
type ThreadKey struct {
	ThreadID    string `json:"thread_id,omitempty"`
	OtherUserID string `json:"other_user_id,omitempty"`
}

// Resolve returns the one logical thread identifier regardless of which key
// field is populated.
func (k ThreadKey) Resolve() string {
	if k.ThreadID != "" {
		return k.ThreadID
	}
	return k.OtherUserID
}

// DeltaHeader is the common prefix of every delta, read first to classify.
type DeltaHeader struct {
	Class string `json:"class"`
}

// MentionRange records one mention as an (offset, length) range into the
// message body plus the mentioned account id.
type MentionRange struct {
	Offset int    `json:"o"`
	Length int    `json:"l"`
	UserID string `json:"i"`
}

// WireAttachment is the attachment record embedded in NewMessage deltas.
type WireAttachment struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // photo, video, file, audio, sticker
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// NewMessageDelta is the payload of a DeltaClassNewMessage delta.
type NewMessageDelta struct {
	DeltaHeader
	Key         ThreadKey        `json:"key"`
	MessageID   string           `json:"mid"`
	SenderID    string           `json:"sender_id"`
	TimestampMS int64            `json:"timestamp"`
	Body        string           `json:"body"`
	Mentions    []MentionRange   `json:"mentions,omitempty"`
	Attachments []WireAttachment `json:"attachments,omitempty"`
	SequenceID  int64            `json:"seq_id,omitempty"`
}

// ClientPayloadDelta wraps a client-encoded payload whose bytes contain zero
// or more sub-deltas (reaction, unsend, reply-with-quote).
type ClientPayloadDelta struct {
	DeltaHeader
	Payload []byte `json:"payload"`
}

// ClientSubDeltas is the decoded body of a ClientPayloadDelta.
type ClientSubDeltas struct {
	Deltas []ClientSubDelta `json:"deltas"`
}

// ClientSubDelta carries exactly one of its pointer members.
type ClientSubDelta struct {
	Reaction *ReactionSubDelta `json:"delta_reaction,omitempty"`
	Unsend   *UnsendSubDelta   `json:"delta_unsend,omitempty"`
	Reply    *ReplySubDelta    `json:"delta_reply,omitempty"`
}

// ReactionSubDelta is an added/removed message reaction.
type ReactionSubDelta struct {
	Key         ThreadKey `json:"key"`
	MessageID   string    `json:"mid"`
	ActorID     string    `json:"actor_id"`
	SenderID    string    `json:"sender_id"`
	Reaction    string    `json:"reaction"` // empty means removed
	TimestampMS int64     `json:"timestamp"`
}

// UnsendSubDelta is a message retraction.
type UnsendSubDelta struct {
	Key         ThreadKey `json:"key"`
	MessageID   string    `json:"mid"`
	SenderID    string    `json:"sender_id"`
	TimestampMS int64     `json:"timestamp"`
}

// ReplySubDelta is a message that quotes another message.
type ReplySubDelta struct {
	Message       NewMessageDelta `json:"message"`
	QuotedMessage NewMessageDelta `json:"replied_to_message"`
}

// ReadReceiptDelta reports another participant reading up to a watermark.
type ReadReceiptDelta struct {
	DeltaHeader
	Key               ThreadKey `json:"key"`
	ReaderID          string    `json:"reader_id"`
	ReadWatermarkMS   int64     `json:"read_watermark"`
	ActionTimestampMS int64     `json:"action_timestamp"`
}

// ThreadNameDelta is a thread rename log message.
type ThreadNameDelta struct {
	DeltaHeader
	Key         ThreadKey `json:"key"`
	SenderID    string    `json:"sender_id"`
	Name        string    `json:"name"`
	TimestampMS int64     `json:"timestamp"`
}

// ParticipantsDelta covers both participant-added and participant-left deltas.
type ParticipantsDelta struct {
	DeltaHeader
	Key         ThreadKey `json:"key"`
	SenderID    string    `json:"sender_id"`
	AddedIDs    []string  `json:"added_participants,omitempty"`
	LeftID      string    `json:"left_participant,omitempty"`
	TimestampMS int64     `json:"timestamp"`
}

// AdminTextDelta is the generic admin/log message shape; Type selects the
// subtype and UntypedData carries the subtype-specific fields.
type AdminTextDelta struct {
	DeltaHeader
	Key         ThreadKey         `json:"key"`
	SenderID    string            `json:"sender_id"`
	Type        string            `json:"type"`
	TimestampMS int64             `json:"timestamp"`
	UntypedData map[string]string `json:"untyped_data,omitempty"`
}

// TypingDelta is a typing-state change on the typing topic.
type TypingDelta struct {
	SenderID string `json:"sender_id"`
	ThreadID string `json:"thread_id,omitempty"`
	State    int    `json:"state"` // 1 typing, 0 stopped
}

// PresenceDelta is a presence-list update on the presence topic.
type PresenceDelta struct {
	Updates []PresenceEntry `json:"list"`
}

// PresenceEntry is one account's presence state.
type PresenceEntry struct {
	UserID      string `json:"u"`
	Active      int    `json:"a"`
	LastActive  int64  `json:"la"`
}
