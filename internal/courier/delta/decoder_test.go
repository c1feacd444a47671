package delta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/internal/courier/wire"
	courierhttp "github.com/courier-im/courier/pkg/http"
	"github.com/courier-im/courier/pkg/logging"
)

const selfAccountID = "100077000"

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	page := fmt.Sprintf(`<html><head>
<script type="application/json" data-block="sync-params">{"seq_id": 100, "device_id": "dev-1"}</script>
<script type="application/json" data-block="viewer">{"account_id": %q}</script>
<script type="application/json" data-block="security">{"token": "tok", "checksum": "ck"}</script>
</head></html>`, selfAccountID)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	t.Cleanup(server.Close)

	client, err := courierhttp.NewHTTPClient(nil, logging.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cfg := session.DefaultConfig()
	cfg.BaseURL = server.URL

	sess, err := session.Bootstrap(context.Background(),
		session.Credentials{Cookies: []session.StoredCookie{{Name: "c_account", Value: selfAccountID}}},
		client, cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	return sess
}

func newTestDecoder(t *testing.T, opts Options) (*Decoder, *session.Session) {
	sess := newTestSession(t)
	return NewDecoder(sess, opts, logging.NewNoopLogger(), nil), sess
}

func syncFrame(t *testing.T, sp *wire.SyncPayload) *wire.Frame {
	t.Helper()
	payload, err := wire.EncodePayload(sp, false)
	require.NoError(t, err)
	return &wire.Frame{
		Topic:    wire.TopicEventStream,
		Envelope: wire.Envelope{Type: wire.TypeSignal, Payload: payload},
	}
}

func rawDelta(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDecodeNewMessage(t *testing.T) {
	d, sess := newTestDecoder(t, Options{})

	nm := &wire.NewMessageDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassNewMessage},
		Key:         wire.ThreadKey{ThreadID: "t-900"},
		MessageID:   "mid.1",
		SenderID:    "200011",
		TimestampMS: 1700000000123,
		Body:        "hello @ana",
		Mentions:    []wire.MentionRange{{Offset: 6, Length: 4, UserID: "300012"}},
		Attachments: []wire.WireAttachment{{ID: "att-1", Kind: "photo", MimeType: "image/jpeg", Size: 2048}},
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 101,
		SyncToken:      "st-1",
		Deltas:         []json.RawMessage{rawDelta(t, nm)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	msg, ok := events[0].(Message)
	require.True(t, ok)
	assert.Equal(t, "t-900", msg.ThreadID)
	assert.Equal(t, "mid.1", msg.MessageID)
	assert.Equal(t, "hello @ana", msg.Body)
	assert.Equal(t, int64(1700000000123), msg.Timestamp.UnixMilli())
	require.Len(t, msg.Mentions, 1)
	assert.Equal(t, "300012", msg.Mentions[0].UserID)
	assert.Equal(t, 6, msg.Mentions[0].Offset)
	assert.Equal(t, "@ana", msg.Mentions[0].Text)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "photo", msg.Attachments[0].Type)

	cursor := sess.Cursor()
	assert.Equal(t, int64(101), cursor.SequenceID)
	assert.Equal(t, "st-1", cursor.SyncToken)
}

func TestMentionRangeOutsideBodyLeavesTextEmpty(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	nm := &wire.NewMessageDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassNewMessage},
		Key:         wire.ThreadKey{ThreadID: "t-900"},
		MessageID:   "mid.2",
		SenderID:    "200011",
		Body:        "hi",
		Mentions:    []wire.MentionRange{{Offset: 40, Length: 4, UserID: "300012"}},
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 102,
		Deltas:         []json.RawMessage{rawDelta(t, nm)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	msg := events[0].(Message)
	require.Len(t, msg.Mentions, 1)
	assert.Equal(t, 40, msg.Mentions[0].Offset)
	assert.Empty(t, msg.Mentions[0].Text)
}

func TestCursorAdvancesEvenWhenDeltasAreMalformed(t *testing.T) {
	d, sess := newTestDecoder(t, Options{})

	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 205,
		SyncToken:      "st-2",
		Deltas:         []json.RawMessage{json.RawMessage(`{"class": 42}`)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	_, isWarning := events[0].(DecodeWarning)
	assert.True(t, isWarning)

	assert.Equal(t, int64(205), sess.Cursor().SequenceID)
}

func TestCursorNeverMovesBackward(t *testing.T) {
	d, sess := newTestDecoder(t, Options{})

	_, err := d.Decode(syncFrame(t, &wire.SyncPayload{LastSequenceID: 300, SyncToken: "st-3"}))
	require.NoError(t, err)
	_, err = d.Decode(syncFrame(t, &wire.SyncPayload{LastSequenceID: 290, SyncToken: "st-old"}))
	require.NoError(t, err)

	cursor := sess.Cursor()
	assert.Equal(t, int64(300), cursor.SequenceID)
	assert.Equal(t, "st-3", cursor.SyncToken)
}

func TestSelfListenSuppression(t *testing.T) {
	nm := &wire.NewMessageDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassNewMessage},
		Key:         wire.ThreadKey{OtherUserID: "200011"},
		MessageID:   "mid.self",
		SenderID:    selfAccountID,
	}

	d, _ := newTestDecoder(t, Options{})
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 1, Deltas: []json.RawMessage{rawDelta(t, nm)},
	}))
	require.NoError(t, err)
	assert.Empty(t, events, "own messages are suppressed by default")

	d, _ = newTestDecoder(t, Options{SelfListen: true})
	events, err = d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 1, Deltas: []json.RawMessage{rawDelta(t, nm)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "mid.self", events[0].(Message).MessageID)
}

func TestDecodeClientPayloadSubDeltas(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	subs, err := json.Marshal(&wire.ClientSubDeltas{Deltas: []wire.ClientSubDelta{
		{Reaction: &wire.ReactionSubDelta{
			Key: wire.ThreadKey{ThreadID: "t-1"}, MessageID: "mid.9",
			ActorID: "200011", Reaction: "❤", TimestampMS: 1700000001000,
		}},
		{Unsend: &wire.UnsendSubDelta{
			Key: wire.ThreadKey{ThreadID: "t-1"}, MessageID: "mid.8",
			SenderID: "200011", TimestampMS: 1700000002000,
		}},
	}})
	require.NoError(t, err)

	cp := &wire.ClientPayloadDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassClientPayload},
		Payload:     subs,
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 2, Deltas: []json.RawMessage{rawDelta(t, cp)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 2)

	reaction := events[0].(Reaction)
	assert.Equal(t, "❤", reaction.Emoji)
	assert.Equal(t, "mid.9", reaction.MessageID)

	unsend := events[1].(Unsend)
	assert.Equal(t, "mid.8", unsend.MessageID)
}

func TestDecodeReply(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	subs, err := json.Marshal(&wire.ClientSubDeltas{Deltas: []wire.ClientSubDelta{
		{Reply: &wire.ReplySubDelta{
			Message: wire.NewMessageDelta{
				Key: wire.ThreadKey{ThreadID: "t-2"}, MessageID: "mid.r", SenderID: "200011", Body: "agreed",
			},
			QuotedMessage: wire.NewMessageDelta{
				Key: wire.ThreadKey{ThreadID: "t-2"}, MessageID: "mid.q", SenderID: "300012", Body: "lunch?",
			},
		}},
	}})
	require.NoError(t, err)

	cp := &wire.ClientPayloadDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassClientPayload},
		Payload:     subs,
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 3, Deltas: []json.RawMessage{rawDelta(t, cp)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	reply := events[0].(MessageReply)
	assert.Equal(t, "mid.r", reply.Message.MessageID)
	assert.Equal(t, "mid.q", reply.Quoted.MessageID)
	assert.Equal(t, "lunch?", reply.Quoted.Body)
}

func TestUnknownDeltaClassBecomesWarning(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 4,
		Deltas:         []json.RawMessage{json.RawMessage(`{"class":"SomethingNew","x":1}`)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	warning := events[0].(DecodeWarning)
	assert.Equal(t, "SomethingNew", warning.Class)
	assert.Contains(t, string(warning.Raw), "SomethingNew")
}

func TestStreamExpiredSurfacesAsError(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	_, err := d.Decode(syncFrame(t, &wire.SyncPayload{ErrorCode: "ERROR_QUEUE_EXPIRED"}))
	require.ErrorIs(t, err, ErrStreamExpired)
}

func TestDecodeTyping(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	payload, err := wire.EncodePayload(&wire.TypingDelta{SenderID: "200011", ThreadID: "t-1", State: 1}, false)
	require.NoError(t, err)
	events, err := d.Decode(&wire.Frame{
		Topic:    wire.TopicTyping,
		Envelope: wire.Envelope{Type: wire.TypeSignal, Payload: payload},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	typing := events[0].(TypingState)
	assert.True(t, typing.Typing)
	assert.Equal(t, "200011", typing.UserID)
}

func TestDecodePresence(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	payload, err := wire.EncodePayload(&wire.PresenceDelta{Updates: []wire.PresenceEntry{
		{UserID: "200011", Active: 1, LastActive: 1700000000},
		{UserID: "300012", Active: 0, LastActive: 1699990000},
	}}, false)
	require.NoError(t, err)
	events, err := d.Decode(&wire.Frame{
		Topic:    wire.TopicPresence,
		Envelope: wire.Envelope{Type: wire.TypeSignal, Payload: payload},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.True(t, events[0].(PresenceUpdate).Active)
	assert.False(t, events[1].(PresenceUpdate).Active)
}

func TestDecodeAdminTextThemeChange(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	at := &wire.AdminTextDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassAdminText},
		Key:         wire.ThreadKey{ThreadID: "t-5"},
		SenderID:    "200011",
		Type:        wire.AdminTypeThemeChange,
		UntypedData: map[string]string{"theme_color": "FF5CA1E5"},
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 5, Deltas: []json.RawMessage{rawDelta(t, at)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	change := events[0].(ThreadMetadataChange)
	assert.Equal(t, ChangeTheme, change.Change)
	assert.Equal(t, "FF5CA1E5", change.Data["theme_color"])
}

func TestDecodeCallLog(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	at := &wire.AdminTextDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassAdminText},
		Key:         wire.ThreadKey{OtherUserID: "200011"},
		SenderID:    "200011",
		Type:        wire.AdminTypeCallLog,
		UntypedData: map[string]string{"event": "call_ended", "call_duration": "95"},
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 6, Deltas: []json.RawMessage{rawDelta(t, at)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	call := events[0].(CallLog)
	assert.True(t, call.Ended)
	assert.Equal(t, int64(95), int64(call.Duration.Seconds()))
}

func TestDecodeParticipantChanges(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})

	added := &wire.ParticipantsDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassParticipantsAdded},
		Key:         wire.ThreadKey{ThreadID: "t-7"},
		SenderID:    "200011",
		AddedIDs:    []string{"300012", "300013"},
	}
	left := &wire.ParticipantsDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassParticipantLeft},
		Key:         wire.ThreadKey{ThreadID: "t-7"},
		LeftID:      "300013",
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 7,
		Deltas:         []json.RawMessage{rawDelta(t, added), rawDelta(t, left)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, ChangeMembersAdded, events[0].(ThreadMetadataChange).Change)
	assert.Equal(t, []string{"300012", "300013"}, events[0].(ThreadMetadataChange).Members)
	assert.Equal(t, ChangeMemberLeft, events[1].(ThreadMetadataChange).Change)
	assert.Equal(t, []string{"300013"}, events[1].(ThreadMetadataChange).Members)
}

type fakeResolver struct {
	urls  map[string]string
	calls int
}

func (f *fakeResolver) ResolveAttachmentURL(ctx context.Context, attachmentID string) (string, error) {
	f.calls++
	url, ok := f.urls[attachmentID]
	if !ok {
		return "", fmt.Errorf("unknown attachment %s", attachmentID)
	}
	return url, nil
}

func TestPhotoAttachmentURLResolved(t *testing.T) {
	d, _ := newTestDecoder(t, Options{})
	resolver := &fakeResolver{urls: map[string]string{"att-9": "https://cdn.example/att-9.jpg"}}
	d.SetResolver(resolver)

	nm := &wire.NewMessageDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassNewMessage},
		Key:         wire.ThreadKey{ThreadID: "t-1"},
		MessageID:   "mid.9",
		SenderID:    "200011",
		Attachments: []wire.WireAttachment{
			{ID: "att-9", Kind: "photo"},
			{ID: "att-10", Kind: "file", URL: "https://cdn.example/doc.pdf"},
		},
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 300,
		Deltas:         []json.RawMessage{rawDelta(t, nm)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	msg, ok := events[0].(Message)
	require.True(t, ok)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "https://cdn.example/att-9.jpg", msg.Attachments[0].URL)
	assert.Equal(t, "https://cdn.example/doc.pdf", msg.Attachments[1].URL)
	assert.Equal(t, 1, resolver.calls, "only the unresolved photo should trigger a lookup")
}

func TestResolveFailureWarnsAndKeepsMessage(t *testing.T) {
	logger := new(logging.MockLogger)
	logger.SetupDefaultExpectations()

	sess := newTestSession(t)
	d := NewDecoder(sess, Options{}, logger, nil)
	d.SetResolver(&fakeResolver{}) // knows no attachments

	nm := &wire.NewMessageDelta{
		DeltaHeader: wire.DeltaHeader{Class: wire.DeltaClassNewMessage},
		Key:         wire.ThreadKey{ThreadID: "t-1"},
		MessageID:   "mid.11",
		SenderID:    "200011",
		Attachments: []wire.WireAttachment{{ID: "att-404", Kind: "photo"}},
	}
	events, err := d.Decode(syncFrame(t, &wire.SyncPayload{
		LastSequenceID: 301,
		Deltas:         []json.RawMessage{rawDelta(t, nm)},
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	msg := events[0].(Message)
	require.Len(t, msg.Attachments, 1)
	assert.Empty(t, msg.Attachments[0].URL, "unresolvable attachment keeps its empty URL")
	logger.AssertCalled(t, "Warn", "Failed to resolve photo attachment URL", mock.Anything)
}
