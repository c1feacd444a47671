package task

import (
	"context"
	"time"

	"github.com/courier-im/courier/internal/courier/wire"
)

// Message send types.
const (
	sendTypeText       = 1
	sendTypeSticker    = 2
	sendTypeAttachment = 3
)

type sendMessageBody struct {
	ThreadID           string              `json:"thread_id,omitempty"`
	OtherUserID        string              `json:"other_user_id,omitempty"`
	Body               string              `json:"body,omitempty"`
	OfflineThreadingID string              `json:"otid"`
	SendType           int                 `json:"send_type"`
	Source             string              `json:"source"`
	StickerID          string              `json:"sticker_id,omitempty"`
	AttachmentIDs      []string            `json:"attachment_ids,omitempty"`
	Mentions           []wire.MentionRange `json:"mentions,omitempty"`
	RepliedToMessageID string              `json:"replied_to_message_id,omitempty"`
}

type reactionBody struct {
	ThreadKey wire.ThreadKey `json:"key"`
	MessageID string         `json:"message_id"`
	ActorID   string         `json:"actor_id"`
	Reaction  string         `json:"reaction"`
}

type unsendBody struct {
	MessageID string `json:"message_id"`
}

type receiptBody struct {
	ThreadKey   wire.ThreadKey `json:"key"`
	MessageID   string         `json:"message_id,omitempty"`
	WatermarkMS int64          `json:"watermark_ts,omitempty"`
	ActorID     string         `json:"actor_id"`
}

type nicknameBody struct {
	ThreadID      string `json:"thread_id"`
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
}

type threadNameBody struct {
	ThreadID string `json:"thread_id"`
	Name     string `json:"thread_name"`
}

type quickReactionBody struct {
	ThreadID string `json:"thread_id"`
	Emoji    string `json:"custom_emoji"`
}

type themeBody struct {
	ThreadID string `json:"thread_id"`
	ThemeID  string `json:"theme_id"`
}

type pinBody struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Pinned    bool   `json:"pinned"`
}

type groupImageBody struct {
	ThreadID string `json:"thread_id"`
	ImageID  string `json:"image_id"`
}

type adminBody struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Admin    bool   `json:"is_admin"`
}

type membersBody struct {
	ThreadID string   `json:"thread_id"`
	UserIDs  []string `json:"user_ids,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
}

// SendReceipt reports a successful send: the client-chosen offline threading
// id that identifies the message until the server's delta echoes it back.
type SendReceipt struct {
	OfflineID string
	Ack       *wire.TaskAck
}

// MessageOption customizes a SendText call.
type MessageOption func(*sendMessageBody)

// WithMentions attaches mention ranges to the message body.
func WithMentions(mentions []wire.MentionRange) MessageOption {
	return func(b *sendMessageBody) { b.Mentions = mentions }
}

// WithReplyTo marks the message as a reply quoting messageID.
func WithReplyTo(messageID string) MessageOption {
	return func(b *sendMessageBody) { b.RepliedToMessageID = messageID }
}

// WithAttachments sends previously uploaded attachments with the message.
func WithAttachments(attachmentIDs []string) MessageOption {
	return func(b *sendMessageBody) {
		b.AttachmentIDs = attachmentIDs
		b.SendType = sendTypeAttachment
	}
}

// SendText sends a text message to the thread.
func (r *Runner) SendText(ctx context.Context, key wire.ThreadKey, text string, opts ...MessageOption) (*SendReceipt, error) {
	body := &sendMessageBody{
		ThreadID:           key.ThreadID,
		OtherUserID:        key.OtherUserID,
		Body:               text,
		OfflineThreadingID: formatEpochID(wire.NewEpochID(time.Now())),
		SendType:           sendTypeText,
		Source:             "messenger:thread",
	}
	for _, opt := range opts {
		opt(body)
	}
	ack, err := r.Run(ctx, Spec{Label: LabelSendMessage, Queue: threadQueue(key.Resolve()), Body: body})
	if err != nil {
		return nil, err
	}
	return &SendReceipt{OfflineID: body.OfflineThreadingID, Ack: ack}, nil
}

// SendSticker sends a sticker by catalog id.
func (r *Runner) SendSticker(ctx context.Context, key wire.ThreadKey, stickerID string) (*SendReceipt, error) {
	body := &sendMessageBody{
		ThreadID:           key.ThreadID,
		OtherUserID:        key.OtherUserID,
		OfflineThreadingID: formatEpochID(wire.NewEpochID(time.Now())),
		SendType:           sendTypeSticker,
		Source:             "messenger:thread",
		StickerID:          stickerID,
	}
	ack, err := r.Run(ctx, Spec{Label: LabelSendMessage, Queue: threadQueue(key.Resolve()), Body: body})
	if err != nil {
		return nil, err
	}
	return &SendReceipt{OfflineID: body.OfflineThreadingID, Ack: ack}, nil
}

// React sets the session account's reaction on a message. An empty emoji
// removes the reaction.
func (r *Runner) React(ctx context.Context, key wire.ThreadKey, messageID, emoji string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelSendReaction,
		Queue: threadQueue(key.Resolve()),
		Body: &reactionBody{
			ThreadKey: key,
			MessageID: messageID,
			ActorID:   r.sess.AccountID(),
			Reaction:  emoji,
		},
	})
	return err
}

// Unsend retracts one of the session account's own messages.
func (r *Runner) Unsend(ctx context.Context, messageID string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelUnsendMessage,
		Queue: "unsend_message",
		Body:  &unsendBody{MessageID: messageID},
	})
	return err
}

// MarkDelivered acknowledges receipt of a message. Best effort; the server
// does not confirm.
func (r *Runner) MarkDelivered(ctx context.Context, key wire.ThreadKey, messageID string) error {
	return r.Fire(ctx, Spec{
		Label: LabelMarkDelivered,
		Queue: threadQueue(key.Resolve()),
		Body: &receiptBody{
			ThreadKey: key,
			MessageID: messageID,
			ActorID:   r.sess.AccountID(),
		},
	})
}

// MarkRead moves the session account's read watermark in the thread.
func (r *Runner) MarkRead(ctx context.Context, key wire.ThreadKey, watermark time.Time) error {
	return r.Fire(ctx, Spec{
		Label: LabelMarkRead,
		Queue: threadQueue(key.Resolve()),
		Body: &receiptBody{
			ThreadKey:   key,
			WatermarkMS: watermark.UnixMilli(),
			ActorID:     r.sess.AccountID(),
		},
	})
}

// SetNickname sets a participant's nickname in the thread. An empty nickname
// clears it.
func (r *Runner) SetNickname(ctx context.Context, threadID, participantID, nickname string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelSetNickname,
		Queue: threadQueue(threadID),
		Body:  &nicknameBody{ThreadID: threadID, ParticipantID: participantID, Nickname: nickname},
	})
	return err
}

// SetThreadName renames a group thread.
func (r *Runner) SetThreadName(ctx context.Context, threadID, name string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelSetThreadName,
		Queue: threadQueue(threadID),
		Body:  &threadNameBody{ThreadID: threadID, Name: name},
	})
	return err
}

// SetQuickReaction changes the thread's quick-reaction emoji.
func (r *Runner) SetQuickReaction(ctx context.Context, threadID, emoji string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelSetEmoji,
		Queue: threadQueue(threadID),
		Body:  &quickReactionBody{ThreadID: threadID, Emoji: emoji},
	})
	return err
}

// SetTheme changes the thread's theme. The server expects the selection and
// the apply step as two tasks in one batch on the same queue, in that order.
func (r *Runner) SetTheme(ctx context.Context, threadID, themeID string) error {
	body := &themeBody{ThreadID: threadID, ThemeID: themeID}
	_, err := r.Run(ctx,
		Spec{Label: LabelSetTheme, Queue: threadQueue(threadID), Body: body},
		Spec{Label: LabelApplyTheme, Queue: threadQueue(threadID), Body: body},
	)
	return err
}

// PinMessage pins or unpins a message in the thread.
func (r *Runner) PinMessage(ctx context.Context, threadID, messageID string, pinned bool) error {
	label := LabelPinMessage
	if !pinned {
		label = LabelUnpinMessage
	}
	_, err := r.Run(ctx, Spec{
		Label: label,
		Queue: threadQueue(threadID),
		Body:  &pinBody{ThreadID: threadID, MessageID: messageID, Pinned: pinned},
	})
	return err
}

// SetGroupImage sets the group thread's image to a previously uploaded one.
func (r *Runner) SetGroupImage(ctx context.Context, threadID, imageID string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelSetGroupImage,
		Queue: threadQueue(threadID),
		Body:  &groupImageBody{ThreadID: threadID, ImageID: imageID},
	})
	return err
}

// SetAdmin grants or revokes a participant's admin role.
func (r *Runner) SetAdmin(ctx context.Context, threadID, userID string, admin bool) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelSetAdmin,
		Queue: threadQueue(threadID),
		Body:  &adminBody{ThreadID: threadID, UserID: userID, Admin: admin},
	})
	return err
}

// AddMembers adds participants to a group thread.
func (r *Runner) AddMembers(ctx context.Context, threadID string, userIDs []string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelAddMembers,
		Queue: threadQueue(threadID),
		Body:  &membersBody{ThreadID: threadID, UserIDs: userIDs},
	})
	return err
}

// RemoveMember removes a participant from a group thread.
func (r *Runner) RemoveMember(ctx context.Context, threadID, userID string) error {
	_, err := r.Run(ctx, Spec{
		Label: LabelRemoveMember,
		Queue: threadQueue(threadID),
		Body:  &membersBody{ThreadID: threadID, UserID: userID},
	})
	return err
}

// Typing announces typing state on the thread. Not a task: typing rides the
// signal topic, fire-and-forget, and the server never acknowledges it.
func (r *Runner) Typing(ctx context.Context, key wire.ThreadKey, typing bool) error {
	state := 0
	if typing {
		state = 1
	}
	payload, err := wire.EncodePayload(&wire.TypingDelta{
		SenderID: r.sess.AccountID(),
		ThreadID: key.Resolve(),
		State:    state,
	}, false)
	if err != nil {
		return err
	}
	return r.pub.Publish(ctx, &wire.Frame{
		Topic:    wire.TopicTypingOut,
		Envelope: wire.Envelope{Type: wire.TypeSignal, Payload: payload},
	})
}
