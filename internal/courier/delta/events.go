package delta

import (
	"encoding/json"
	"time"
)

// Event is one typed occurrence decoded from the realtime stream. The
// concrete types below are the full set; Kind returns a stable tag for
// routing and metrics.
type Event interface {
	Kind() string
}

// Mention is one @-mention resolved to a byte range of the message body.
// Text carries the mentioned substring itself; it is empty when the range
// falls outside the body.
type Mention struct {
	UserID string
	Offset int
	Length int
	Text   string
}

// Attachment is a media or file attachment on a message. URL may be empty
// until resolved through the attachment query.
type Attachment struct {
	ID       string
	Type     string // photo, video, file, audio, sticker
	URL      string
	Name     string
	MimeType string
	Size     int64
}

// Message is a newly arrived message in some thread.
type Message struct {
	ThreadID    string
	MessageID   string
	SenderID    string
	Timestamp   time.Time
	Body        string
	Mentions    []Mention
	Attachments []Attachment
	SequenceID  int64
}

func (Message) Kind() string { return "message" }

// MessageReply is a message quoting an earlier one.
type MessageReply struct {
	Message Message
	Quoted  Message
}

func (MessageReply) Kind() string { return "message_reply" }

// Reaction is a reaction added to or removed from a message. An empty Emoji
// means the actor removed their reaction.
type Reaction struct {
	ThreadID  string
	MessageID string
	ActorID   string
	SenderID  string
	Emoji     string
	Timestamp time.Time
}

func (Reaction) Kind() string { return "reaction" }

// Unsend is a message retraction.
type Unsend struct {
	ThreadID  string
	MessageID string
	SenderID  string
	Timestamp time.Time
}

func (Unsend) Kind() string { return "unsend" }

// TypingState reports a participant starting or stopping typing.
type TypingState struct {
	ThreadID string
	UserID   string
	Typing   bool
}

func (TypingState) Kind() string { return "typing" }

// ReadReceipt reports a participant having read up to a watermark.
type ReadReceipt struct {
	ThreadID      string
	ReaderID      string
	ReadWatermark time.Time
	Timestamp     time.Time
}

func (ReadReceipt) Kind() string { return "read_receipt" }

// PresenceUpdate is one contact's active-state change.
type PresenceUpdate struct {
	UserID     string
	Active     bool
	LastActive time.Time
}

func (PresenceUpdate) Kind() string { return "presence" }

// ThreadMetadataChange covers thread renames, theme/icon/nickname changes,
// admin changes and membership changes. Change holds the subtype tag and
// Data the subtype-specific fields.
type ThreadMetadataChange struct {
	ThreadID  string
	ActorID   string
	Change    string
	Name      string
	Members   []string
	Data      map[string]string
	Timestamp time.Time
}

func (ThreadMetadataChange) Kind() string { return "thread_metadata" }

// ThreadMetadataChange subtype tags.
const (
	ChangeName            = "name"
	ChangeTheme           = "theme"
	ChangeIcon            = "icon"
	ChangeNickname        = "nickname"
	ChangeAdmins          = "admins"
	ChangeApprovalMode    = "approval_mode"
	ChangePoll            = "poll"
	ChangeMembersAdded    = "members_added"
	ChangeMemberLeft      = "member_left"
)

// CallLog reports a started or ended call in a thread.
type CallLog struct {
	ThreadID  string
	CallerID  string
	Ended     bool
	Duration  time.Duration
	Timestamp time.Time
}

func (CallLog) Kind() string { return "call_log" }

// DecodeWarning is emitted instead of dropping a delta whose discriminant or
// shape is unrecognized, so consumers can log or sample the raw bytes.
type DecodeWarning struct {
	Class string
	Raw   json.RawMessage
	Err   error
}

func (DecodeWarning) Kind() string { return "decode_warning" }

// Disconnected is the terminal event: the supervisor gave up reconnecting
// and the stream is over.
type Disconnected struct {
	Err error
}

func (Disconnected) Kind() string { return "disconnected" }
