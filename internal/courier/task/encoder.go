package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/internal/courier/wire"
	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/metrics"
)

// Publisher is the slice of the connection the runner needs. Satisfied by
// transport.Connection.
type Publisher interface {
	Publish(ctx context.Context, frame *wire.Frame) error
	Call(ctx context.Context, frame *wire.Frame) (*wire.Envelope, error)
}

// Spec describes one task before encoding: a label name, the FIFO queue it
// serializes on, and the JSON body the handler expects.
type Spec struct {
	Label string
	Queue string
	Body  interface{}
}

// Error is a task batch rejected by the server.
type Error struct {
	Code    string
	TaskIDs []int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("task batch rejected: %s (tasks %v)", e.Code, e.TaskIDs)
}

// Runner encodes task specs into batches and publishes them on the task
// queue topic. Task ids come from the session so they stay monotonic across
// reconnects within one session.
type Runner struct {
	sess   *session.Session
	pub    Publisher
	labels *LabelTable
	logger logging.Logger
	wm     *metrics.WireMetrics
}

// NewRunner builds a runner. The metrics argument may be nil.
func NewRunner(sess *session.Session, pub Publisher, labels *LabelTable, logger logging.Logger, wm *metrics.WireMetrics) *Runner {
	if labels == nil {
		labels = DefaultLabelTable()
	}
	return &Runner{sess: sess, pub: pub, labels: labels, logger: logger, wm: wm}
}

// Labels exposes the runner's label table.
func (r *Runner) Labels() *LabelTable {
	return r.labels
}

// Run encodes the specs into one batch, publishes it, and blocks for the
// acknowledgement. Specs sharing a queue name are applied by the server in
// the order given here.
func (r *Runner) Run(ctx context.Context, specs ...Spec) (*wire.TaskAck, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("empty task batch")
	}

	batch, err := r.encode(specs)
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodePayload(batch, true)
	if err != nil {
		return nil, err
	}

	env, err := r.pub.Call(ctx, &wire.Frame{
		Topic: wire.TopicTaskQueue,
		QoS:   1,
		Envelope: wire.Envelope{
			AppID:   r.sess.AppID(),
			Type:    wire.TypeTaskBatch,
			Payload: payload,
		},
	})
	if err != nil {
		return nil, err
	}

	var ack wire.TaskAck
	if err := wire.DecodePayload(env.Payload, &ack); err != nil {
		return nil, &wire.ProtocolError{Reason: fmt.Sprintf("unparseable task ack: %v", err)}
	}
	if ack.ErrorCode != "" {
		return nil, &Error{Code: ack.ErrorCode, TaskIDs: ack.TaskIDs}
	}
	if ack.NewToken != "" {
		r.sess.AdvanceCursor(0, ack.NewToken)
	}

	if r.wm != nil {
		for _, spec := range specs {
			r.wm.TasksPublished.WithLabelValues(spec.Label).Inc()
		}
	}
	return &ack, nil
}

// Fire publishes the specs without waiting for an acknowledgement. Used for
// best-effort mutations like receipts where the caller has nothing to do
// with the outcome.
func (r *Runner) Fire(ctx context.Context, specs ...Spec) error {
	batch, err := r.encode(specs)
	if err != nil {
		return err
	}
	payload, err := wire.EncodePayload(batch, true)
	if err != nil {
		return err
	}
	err = r.pub.Publish(ctx, &wire.Frame{
		Topic: wire.TopicTaskQueue,
		QoS:   0,
		Envelope: wire.Envelope{
			AppID:     r.sess.AppID(),
			Type:      wire.TypeTaskBatch,
			RequestID: r.sess.NextRequestID(),
			Payload:   payload,
		},
	})
	if err != nil {
		return err
	}
	if r.wm != nil {
		for _, spec := range specs {
			r.wm.TasksPublished.WithLabelValues(spec.Label).Inc()
		}
	}
	return nil
}

func (r *Runner) encode(specs []Spec) (*wire.TaskBatch, error) {
	tasks := make([]wire.Task, 0, len(specs))
	for _, spec := range specs {
		label, err := r.labels.Lookup(spec.Label)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", spec.Label, err)
		}
		queue := spec.Queue
		if queue == "" {
			queue = spec.Label
		}
		tasks = append(tasks, wire.Task{
			Label:     label,
			Payload:   string(body),
			QueueName: queue,
			TaskID:    r.sess.NextTaskID(),
		})
	}
	return &wire.TaskBatch{
		EpochID:   wire.NewEpochID(time.Now()),
		Tasks:     tasks,
		VersionID: wire.TaskBatchVersion,
	}, nil
}

// threadQueue returns the per-thread FIFO queue name so mutations on one
// thread never reorder against each other.
func threadQueue(threadID string) string {
	return "thread_" + threadID
}

// formatEpochID renders an epoch id the way task bodies carry it, as a
// decimal string.
func formatEpochID(id int64) string {
	return strconv.FormatInt(id, 10)
}
