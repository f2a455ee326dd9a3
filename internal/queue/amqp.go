package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/models"
)

// AMQPQueue is a RabbitMQ-backed Queue. Claims use basic.get with manual ack,
// so an unacked delivery is redelivered if the consumer goes away. Delayed
// requeues are published to a companion queue whose expired messages are
// dead-lettered back to the work queue.
type AMQPQueue struct {
	name       string
	delayName  string
	conn       *amqp.Connection
	ch         *amqp.Channel
	suspension SuspensionStore
	log        logging.Logger

	mu       sync.Mutex
	inFlight map[string]amqp.Delivery
}

// NewAMQPQueue connects to url and declares the work and delay queues.
func NewAMQPQueue(url, name string, suspension SuspensionStore, logger logging.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if suspension == nil {
		suspension = NewMemorySuspensionStore()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	q := &AMQPQueue{
		name:       name,
		delayName:  name + ".delay",
		conn:       conn,
		ch:         ch,
		suspension: suspension,
		log:        logger.With("AMQPQueue"),
		inFlight:   make(map[string]amqp.Delivery),
	}
	if err := q.declare(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	q.log.Infof("Connected to RabbitMQ queue %s", name)
	return q, nil
}

func (q *AMQPQueue) declare() error {
	if _, err := q.ch.QueueDeclare(
		q.name, // name
		true,   // durable
		false,  // auto-delete
		false,  // exclusive
		false,  // no-wait
		nil,    // args
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}
	if _, err := q.ch.QueueDeclare(
		q.delayName,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.name,
		},
	); err != nil {
		return fmt.Errorf("failed to declare delay queue %s: %w", q.delayName, err)
	}
	return nil
}

func (q *AMQPQueue) publish(ctx context.Context, routingKey string, job models.ReconciliationJob, expiration time.Duration) error {
	job.LeaseToken = ""
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.EnqueuedAt,
		Body:         body,
	}
	if expiration > 0 {
		msg.Expiration = strconv.FormatInt(expiration.Milliseconds(), 10)
	}
	return q.ch.PublishWithContext(ctx,
		"",         // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
}

func (q *AMQPQueue) Enqueue(ctx context.Context, job models.ReconciliationJob) error {
	fillJob(&job, time.Now().UTC())
	if err := q.publish(ctx, q.name, job, 0); err != nil {
		return fmt.Errorf("failed to enqueue job for record %s: %w", job.RecordID, err)
	}
	return nil
}

// Claim fetches one message. The lease is held until Ack or Requeue; the
// broker, not lease, decides when an abandoned delivery becomes visible again.
func (q *AMQPQueue) Claim(ctx context.Context, lease time.Duration) (*models.ReconciliationJob, error) {
	if err := suspendedErr(ctx, q.suspension, q.name); err != nil {
		return nil, err
	}

	d, ok, err := q.ch.Get(q.name, false)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if !ok {
		return nil, ErrEmpty
	}

	var job models.ReconciliationJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.log.Errorf("Dropping undecodable message %s: %v", d.MessageId, err)
		_ = d.Reject(false)
		return nil, ErrEmpty
	}

	job.LeaseToken = strconv.FormatUint(d.DeliveryTag, 10)
	q.mu.Lock()
	q.inFlight[job.LeaseToken] = d
	q.mu.Unlock()
	return &job, nil
}

func (q *AMQPQueue) take(job *models.ReconciliationJob) (amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inFlight[job.LeaseToken]
	if !ok {
		return amqp.Delivery{}, ErrLeaseLost
	}
	delete(q.inFlight, job.LeaseToken)
	return d, nil
}

func (q *AMQPQueue) Ack(ctx context.Context, job *models.ReconciliationJob) error {
	d, err := q.take(job)
	if err != nil {
		return err
	}
	return d.Ack(false)
}

func (q *AMQPQueue) Requeue(ctx context.Context, job *models.ReconciliationJob) error {
	return q.RequeueDelayed(ctx, job, 0)
}

// RequeueDelayed republishes the job with an incremented attempt count and
// acks the original delivery.
func (q *AMQPQueue) RequeueDelayed(ctx context.Context, job *models.ReconciliationJob, delay time.Duration) error {
	d, err := q.take(job)
	if err != nil {
		return err
	}

	next := *job
	next.Attempts++
	target := q.name
	if delay > 0 {
		target = q.delayName
	}
	if err := q.publish(ctx, target, next, delay); err != nil {
		_ = d.Nack(false, true)
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return d.Ack(false)
}

func (q *AMQPQueue) Suspend(ctx context.Context, reason string, statusCode int) error {
	return q.suspension.Set(ctx, q.name, Suspension{Suspended: true, Reason: reason, StatusCode: statusCode, At: time.Now().UTC()})
}

func (q *AMQPQueue) Resume(ctx context.Context) error {
	return q.suspension.Clear(ctx, q.name)
}

func (q *AMQPQueue) Status(ctx context.Context) (Status, error) {
	st, err := baseStatus(ctx, q.suspension, q.name)
	if err != nil {
		return st, err
	}
	work, err := q.ch.QueueDeclarePassive(q.name, true, false, false, false, nil)
	if err != nil {
		return st, fmt.Errorf("failed to inspect queue %s: %w", q.name, err)
	}
	delayed, err := q.ch.QueueDeclarePassive(q.delayName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	})
	if err != nil {
		return st, fmt.Errorf("failed to inspect queue %s: %w", q.delayName, err)
	}

	q.mu.Lock()
	st.InFlight = len(q.inFlight)
	q.mu.Unlock()
	st.Pending = work.Messages
	st.Delayed = delayed.Messages
	return st, nil
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
