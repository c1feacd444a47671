package delta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/internal/courier/wire"
	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/metrics"
)

// ErrStreamExpired reports a resume rejected by the server because the
// cursor aged out. The supervisor reacts by resetting the cursor and
// creating a fresh stream; messages in the gap are lost.
var ErrStreamExpired = errors.New("sync stream expired, cursor no longer resumable")

// Sync error codes the server is known to send.
const (
	syncErrExpired  = "ERROR_QUEUE_EXPIRED"
	syncErrNotFound = "ERROR_QUEUE_NOT_FOUND"
)

// Options tune the decoder's filtering behavior.
type Options struct {
	// SelfListen, when set, delivers events caused by this session's own
	// account instead of suppressing them.
	SelfListen bool
}

// AttachmentResolver exchanges an attachment id for a fetchable URL. The
// stream delivers photo attachments by id only.
type AttachmentResolver interface {
	ResolveAttachmentURL(ctx context.Context, attachmentID string) (string, error)
}

// Decoder turns inbound frames into typed events. It owns cursor
// advancement: the session cursor moves forward before a batch's deltas are
// handed out, so a crash mid-batch resumes past it rather than replaying it.
type Decoder struct {
	sess     *session.Session
	opts     Options
	logger   logging.Logger
	wm       *metrics.WireMetrics
	resolver AttachmentResolver
}

// NewDecoder builds a decoder bound to the session. The metrics argument may
// be nil.
func NewDecoder(sess *session.Session, opts Options, logger logging.Logger, wm *metrics.WireMetrics) *Decoder {
	return &Decoder{sess: sess, opts: opts, logger: logger, wm: wm}
}

// SetResolver installs the lookup used to fill in missing photo URLs. Without
// one, photo attachments are emitted with an empty URL.
func (d *Decoder) SetResolver(r AttachmentResolver) {
	d.resolver = r
}

// Decode processes one inbound frame and returns the events it produced, in
// stream order. A non-nil error means the stream itself is broken (expired
// cursor), not that one delta was malformed; malformed deltas become
// DecodeWarning events.
func (d *Decoder) Decode(frame *wire.Frame) ([]Event, error) {
	var events []Event
	var err error

	switch frame.Topic {
	case wire.TopicEventStream:
		events, err = d.decodeSync(frame)
	case wire.TopicTyping:
		events = d.decodeTyping(frame)
	case wire.TopicPresence:
		events = d.decodePresence(frame)
	case wire.TopicReceipts:
		events = d.decodeReceipts(frame)
	default:
		d.logger.Debug("Ignoring frame on unhandled topic", "topic", frame.Topic)
	}

	if d.wm != nil {
		for _, ev := range events {
			d.wm.EventsEmitted.WithLabelValues(ev.Kind()).Inc()
			if ev.Kind() == "decode_warning" {
				d.wm.DecodeWarnings.Inc()
			}
		}
	}
	return events, err
}

func (d *Decoder) decodeSync(frame *wire.Frame) ([]Event, error) {
	var sp wire.SyncPayload
	if err := wire.DecodePayload(frame.Payload, &sp); err != nil {
		return []Event{DecodeWarning{Class: "sync", Raw: frame.Payload, Err: err}}, nil
	}

	switch sp.ErrorCode {
	case "":
	case syncErrExpired, syncErrNotFound:
		return nil, fmt.Errorf("%w: %s", ErrStreamExpired, sp.ErrorCode)
	default:
		return nil, &wire.ProtocolError{Reason: "sync stream error: " + sp.ErrorCode}
	}

	// Cursor first. The batch is considered consumed once seen, whatever
	// happens to the individual deltas.
	if sp.LastSequenceID > 0 {
		d.sess.AdvanceCursor(sp.LastSequenceID, sp.SyncToken)
	}

	events := make([]Event, 0, len(sp.Deltas))
	for _, raw := range sp.Deltas {
		events = append(events, d.decodeDelta(raw)...)
	}
	return events, nil
}

func (d *Decoder) decodeDelta(raw json.RawMessage) []Event {
	var header wire.DeltaHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return []Event{DecodeWarning{Raw: raw, Err: err}}
	}

	switch header.Class {
	case wire.DeltaClassNewMessage:
		return d.decodeNewMessage(raw)
	case wire.DeltaClassClientPayload:
		return d.decodeClientPayload(raw)
	case wire.DeltaClassReadReceipt, wire.DeltaClassMarkRead:
		var rr wire.ReadReceiptDelta
		if err := json.Unmarshal(raw, &rr); err != nil {
			return []Event{DecodeWarning{Class: header.Class, Raw: raw, Err: err}}
		}
		if d.isSelf(rr.ReaderID) && !d.opts.SelfListen {
			return nil
		}
		return []Event{ReadReceipt{
			ThreadID:      rr.Key.Resolve(),
			ReaderID:      rr.ReaderID,
			ReadWatermark: time.UnixMilli(rr.ReadWatermarkMS),
			Timestamp:     time.UnixMilli(rr.ActionTimestampMS),
		}}
	case wire.DeltaClassThreadName:
		var tn wire.ThreadNameDelta
		if err := json.Unmarshal(raw, &tn); err != nil {
			return []Event{DecodeWarning{Class: header.Class, Raw: raw, Err: err}}
		}
		return []Event{ThreadMetadataChange{
			ThreadID:  tn.Key.Resolve(),
			ActorID:   tn.SenderID,
			Change:    ChangeName,
			Name:      tn.Name,
			Timestamp: time.UnixMilli(tn.TimestampMS),
		}}
	case wire.DeltaClassParticipantsAdded, wire.DeltaClassParticipantLeft:
		return d.decodeParticipants(header.Class, raw)
	case wire.DeltaClassAdminText:
		return d.decodeAdminText(raw)
	default:
		d.logger.Warn("Unrecognized delta class", "class", header.Class)
		return []Event{DecodeWarning{Class: header.Class, Raw: raw}}
	}
}

func (d *Decoder) decodeNewMessage(raw json.RawMessage) []Event {
	var nm wire.NewMessageDelta
	if err := json.Unmarshal(raw, &nm); err != nil {
		return []Event{DecodeWarning{Class: wire.DeltaClassNewMessage, Raw: raw, Err: err}}
	}
	if d.isSelf(nm.SenderID) && !d.opts.SelfListen {
		return nil
	}
	return []Event{d.messageFromDelta(&nm)}
}

func (d *Decoder) messageFromDelta(nm *wire.NewMessageDelta) Message {
	msg := Message{
		ThreadID:   nm.Key.Resolve(),
		MessageID:  nm.MessageID,
		SenderID:   nm.SenderID,
		Timestamp:  time.UnixMilli(nm.TimestampMS),
		Body:       nm.Body,
		SequenceID: nm.SequenceID,
	}
	for _, m := range nm.Mentions {
		mention := Mention{UserID: m.UserID, Offset: m.Offset, Length: m.Length}
		if m.Offset >= 0 && m.Length > 0 && m.Offset+m.Length <= len(nm.Body) {
			mention.Text = nm.Body[m.Offset : m.Offset+m.Length]
		}
		msg.Mentions = append(msg.Mentions, mention)
	}
	for _, a := range nm.Attachments {
		att := Attachment{
			ID:       a.ID,
			Type:     a.Kind,
			URL:      a.URL,
			Name:     a.Name,
			MimeType: a.MimeType,
			Size:     a.Size,
		}
		// Photos arrive without a URL; one lookup per attachment, sequential.
		if att.URL == "" && att.Type == "photo" && d.resolver != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			url, err := d.resolver.ResolveAttachmentURL(ctx, att.ID)
			cancel()
			if err != nil {
				d.logger.Warn("Failed to resolve photo attachment URL", "attachment_id", att.ID, "error", err)
			} else {
				att.URL = url
			}
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg
}

// decodeClientPayload unwraps the byte-array payload and fans its sub-deltas
// out into events. One malformed sub-delta does not poison its siblings.
func (d *Decoder) decodeClientPayload(raw json.RawMessage) []Event {
	var cp wire.ClientPayloadDelta
	if err := json.Unmarshal(raw, &cp); err != nil {
		return []Event{DecodeWarning{Class: wire.DeltaClassClientPayload, Raw: raw, Err: err}}
	}
	var subs wire.ClientSubDeltas
	if err := json.Unmarshal(cp.Payload, &subs); err != nil {
		return []Event{DecodeWarning{Class: wire.DeltaClassClientPayload, Raw: cp.Payload, Err: err}}
	}

	var events []Event
	for _, sub := range subs.Deltas {
		switch {
		case sub.Reaction != nil:
			r := sub.Reaction
			if d.isSelf(r.ActorID) && !d.opts.SelfListen {
				continue
			}
			events = append(events, Reaction{
				ThreadID:  r.Key.Resolve(),
				MessageID: r.MessageID,
				ActorID:   r.ActorID,
				SenderID:  r.SenderID,
				Emoji:     r.Reaction,
				Timestamp: time.UnixMilli(r.TimestampMS),
			})
		case sub.Unsend != nil:
			u := sub.Unsend
			if d.isSelf(u.SenderID) && !d.opts.SelfListen {
				continue
			}
			events = append(events, Unsend{
				ThreadID:  u.Key.Resolve(),
				MessageID: u.MessageID,
				SenderID:  u.SenderID,
				Timestamp: time.UnixMilli(u.TimestampMS),
			})
		case sub.Reply != nil:
			r := sub.Reply
			if d.isSelf(r.Message.SenderID) && !d.opts.SelfListen {
				continue
			}
			events = append(events, MessageReply{
				Message: d.messageFromDelta(&r.Message),
				Quoted:  d.messageFromDelta(&r.QuotedMessage),
			})
		default:
			events = append(events, DecodeWarning{Class: "ClientSubDelta", Raw: cp.Payload})
		}
	}
	return events
}

func (d *Decoder) decodeParticipants(class string, raw json.RawMessage) []Event {
	var pd wire.ParticipantsDelta
	if err := json.Unmarshal(raw, &pd); err != nil {
		return []Event{DecodeWarning{Class: class, Raw: raw, Err: err}}
	}
	change := ChangeMembersAdded
	members := pd.AddedIDs
	if class == wire.DeltaClassParticipantLeft {
		change = ChangeMemberLeft
		members = []string{pd.LeftID}
	}
	return []Event{ThreadMetadataChange{
		ThreadID:  pd.Key.Resolve(),
		ActorID:   pd.SenderID,
		Change:    change,
		Members:   members,
		Timestamp: time.UnixMilli(pd.TimestampMS),
	}}
}

func (d *Decoder) decodeAdminText(raw json.RawMessage) []Event {
	var at wire.AdminTextDelta
	if err := json.Unmarshal(raw, &at); err != nil {
		return []Event{DecodeWarning{Class: wire.DeltaClassAdminText, Raw: raw, Err: err}}
	}

	if at.Type == wire.AdminTypeCallLog {
		ended := at.UntypedData["event"] == "group_call_ended" || at.UntypedData["event"] == "call_ended"
		duration, _ := strconv.Atoi(at.UntypedData["call_duration"])
		return []Event{CallLog{
			ThreadID:  at.Key.Resolve(),
			CallerID:  at.SenderID,
			Ended:     ended,
			Duration:  time.Duration(duration) * time.Second,
			Timestamp: time.UnixMilli(at.TimestampMS),
		}}
	}

	change, ok := adminChangeTag(at.Type)
	if !ok {
		return []Event{DecodeWarning{Class: wire.DeltaClassAdminText + "/" + at.Type, Raw: raw}}
	}
	return []Event{ThreadMetadataChange{
		ThreadID:  at.Key.Resolve(),
		ActorID:   at.SenderID,
		Change:    change,
		Data:      at.UntypedData,
		Timestamp: time.UnixMilli(at.TimestampMS),
	}}
}

func adminChangeTag(adminType string) (string, bool) {
	switch adminType {
	case wire.AdminTypeThemeChange:
		return ChangeTheme, true
	case wire.AdminTypeIconChange:
		return ChangeIcon, true
	case wire.AdminTypeNicknameChange:
		return ChangeNickname, true
	case wire.AdminTypeAdminChange:
		return ChangeAdmins, true
	case wire.AdminTypeApprovalModeChange:
		return ChangeApprovalMode, true
	case wire.AdminTypePollChange:
		return ChangePoll, true
	default:
		return "", false
	}
}

func (d *Decoder) decodeTyping(frame *wire.Frame) []Event {
	var td wire.TypingDelta
	if err := wire.DecodePayload(frame.Payload, &td); err != nil {
		return []Event{DecodeWarning{Class: "typing", Raw: frame.Payload, Err: err}}
	}
	if d.isSelf(td.SenderID) && !d.opts.SelfListen {
		return nil
	}
	return []Event{TypingState{
		ThreadID: td.ThreadID,
		UserID:   td.SenderID,
		Typing:   td.State == 1,
	}}
}

func (d *Decoder) decodePresence(frame *wire.Frame) []Event {
	var pd wire.PresenceDelta
	if err := wire.DecodePayload(frame.Payload, &pd); err != nil {
		return []Event{DecodeWarning{Class: "presence", Raw: frame.Payload, Err: err}}
	}
	events := make([]Event, 0, len(pd.Updates))
	for _, entry := range pd.Updates {
		events = append(events, PresenceUpdate{
			UserID:     entry.UserID,
			Active:     entry.Active != 0,
			LastActive: time.Unix(entry.LastActive, 0),
		})
	}
	return events
}

func (d *Decoder) decodeReceipts(frame *wire.Frame) []Event {
	var rr wire.ReadReceiptDelta
	if err := wire.DecodePayload(frame.Payload, &rr); err != nil {
		return []Event{DecodeWarning{Class: "receipt", Raw: frame.Payload, Err: err}}
	}
	if d.isSelf(rr.ReaderID) && !d.opts.SelfListen {
		return nil
	}
	return []Event{ReadReceipt{
		ThreadID:      rr.Key.Resolve(),
		ReaderID:      rr.ReaderID,
		ReadWatermark: time.UnixMilli(rr.ReadWatermarkMS),
		Timestamp:     time.UnixMilli(rr.ActionTimestampMS),
	}}
}

func (d *Decoder) isSelf(accountID string) bool {
	if accountID == "" {
		return false
	}
	return accountID == d.sess.AccountID() || accountID == d.sess.SecondaryAccountID()
}
