package queue

import (
	"context"

	"github.com/nats-io/nats.go"
)

// JetStream is the subset of nats.JetStreamContext used by NATSQueue.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	QueueSubscribe(subj, queue string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// NATSQueue is a Dispatcher backed by a JetStream subject.
//
// The stream covering the subject must exist. Failed jobs are nak'ed with a
// delay and redelivered by the server until the attempt limit, after which
// they are terminated.
type NATSQueue struct {
	js      JetStream
	subject string
	group   string
	cfg     config
}

// NewNATSQueue returns a queue publishing to subject. Consumers share the
// durable queue group named group.
func NewNATSQueue(js JetStream, subject, group string, opts ...Option) *NATSQueue {
	return &NATSQueue{js: js, subject: subject, group: group, cfg: newConfig(opts)}
}

// Enqueue implements Dispatcher. The job ID doubles as the JetStream message
// ID so republishing the same job within the dedupe window is a no-op.
func (q *NATSQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if job.ID != "" {
		opts = append(opts, nats.MsgId(job.ID))
	}
	_, err = q.js.Publish(q.subject, body, opts...)
	return err
}

// Consume runs jobs with h until ctx is cancelled.
func (q *NATSQueue) Consume(ctx context.Context, h Handler) error {
	sub, err := q.js.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		q.handle(ctx, h, msg)
	},
		nats.Durable(q.group),
		nats.ManualAck(),
		nats.MaxDeliver(q.cfg.maxAttempts),
		nats.MaxAckPending(q.cfg.workers),
	)
	if err != nil {
		return err
	}
	<-ctx.Done()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Debugw("Unsubscribe failed", "subject", q.subject, "err", err)
		}
	}
	return nil
}

func (q *NATSQueue) handle(ctx context.Context, h Handler, msg *nats.Msg) {
	job, err := decodeJob(msg.Data)
	if err != nil {
		log.Errorw("Discarding malformed job", "subject", q.subject, "err", err)
		q.ack(msg.Term())
		return
	}
	delivered := 1
	if meta, merr := msg.Metadata(); merr == nil {
		delivered = int(meta.NumDelivered)
	}
	job.Attempt = delivered
	if err := h.HandleJob(ctx, job); err != nil {
		if delivered >= q.cfg.maxAttempts || isPermanent(err) {
			log.Errorw("Job exhausted attempts", "subject", q.subject, "job", job.ID, "worker", job.Worker, "err", err)
			q.ack(msg.Term())
			return
		}
		b := q.cfg.newBackOff()
		delay := b.NextBackOff()
		for i := 1; i < delivered; i++ {
			delay = b.NextBackOff()
		}
		if delay < 0 {
			delay = 0
		}
		log.Warnw("Job failed, redelivering", "job", job.ID, "worker", job.Worker, "attempt", delivered, "next", delay, "err", err)
		q.ack(msg.NakWithDelay(delay))
		return
	}
	q.ack(msg.Ack())
}

func (q *NATSQueue) ack(err error) {
	if err != nil {
		log.Debugw("Ack failed", "subject", q.subject, "err", err)
	}
}
