package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		expectError bool
		topic       string
		requestID   int64
	}{
		{
			name:      "task ack frame",
			data:      `{"topic":"/q/response","app_id":"772021112871879","payload":"{\"task_ids\":[7]}","request_id":42,"type":3}`,
			topic:     TopicResponse,
			requestID: 42,
		},
		{
			name:  "signal frame without request id",
			data:  `{"topic":"/q/typing","payload":{"sender_id":"100","state":1},"type":4}`,
			topic: TopicTyping,
		},
		{
			name:        "missing topic",
			data:        `{"type":4}`,
			expectError: true,
		},
		{
			name:        "not json",
			data:        `garbage`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tt.data))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.topic, frame.Topic)
			assert.Equal(t, tt.requestID, frame.RequestID)
		})
	}
}

func TestDecodePayloadUnwrapsDoubleEncoding(t *testing.T) {
	type body struct {
		Status string `json:"status"`
	}

	direct := json.RawMessage(`{"status":"ok"}`)
	wrapped, err := EncodePayload(body{Status: "ok"}, true)
	require.NoError(t, err)

	var got body
	require.NoError(t, DecodePayload(direct, &got))
	assert.Equal(t, "ok", got.Status)

	got = body{}
	require.NoError(t, DecodePayload(wrapped, &got))
	assert.Equal(t, "ok", got.Status)
}

func TestTaskBatchRoundTrip(t *testing.T) {
	batch := TaskBatch{
		EpochID:   NewEpochID(time.Now()),
		VersionID: TaskBatchVersion,
		Tasks: []Task{
			{Label: 21, Payload: `{"thread_id":"123"}`, QueueName: "thread_123", TaskID: 7},
		},
	}

	payload, err := EncodePayload(batch, true)
	require.NoError(t, err)

	frame := Frame{
		Topic:    TopicTaskQueue,
		Envelope: Envelope{Payload: payload, RequestID: 9, Type: TypeTaskBatch},
	}
	data, err := frame.Marshal()
	require.NoError(t, err)

	parsed, err := ParseFrame(data)
	require.NoError(t, err)

	var decoded TaskBatch
	require.NoError(t, DecodePayload(parsed.Payload, &decoded))
	require.Len(t, decoded.Tasks, 1)
	assert.Equal(t, int64(7), decoded.Tasks[0].TaskID)
	assert.Equal(t, batch.EpochID, decoded.EpochID)
}

func TestNewEpochIDEmbedsTimestamp(t *testing.T) {
	now := time.Now()
	id := NewEpochID(now)
	assert.Equal(t, now.UnixMilli(), id>>22)

	other := NewEpochID(now)
	// Same millisecond, still overwhelmingly likely to differ in random bits.
	assert.Equal(t, id>>22, other>>22)
}

func TestThreadKeyResolve(t *testing.T) {
	assert.Equal(t, "g1", ThreadKey{ThreadID: "g1"}.Resolve())
	assert.Equal(t, "u2", ThreadKey{OtherUserID: "u2"}.Resolve())
	assert.Equal(t, "g1", ThreadKey{ThreadID: "g1", OtherUserID: "u2"}.Resolve())
}
