// Package notification owns the durable outbound email queue: enqueueing,
// batch draining with bounded retries, and the scheduled drain loop.
package notification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"terraintake/internal/domain"
	"terraintake/internal/metrics"
	apperrors "terraintake/pkg/errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// AttemptLimit is the number of delivery attempts before a message is
	// marked failed for good.
	AttemptLimit = 3

	// DefaultBatchSize is the number of messages a drain picks up.
	DefaultBatchSize = 10
)

// Options configures a Queue.
type Options struct {
	// From is the sender address stamped on every enqueued message.
	From   string
	Logger logrus.FieldLogger
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Queue stores messages and delivers them through a Transport. The only
// in-memory state is the drain-in-progress flag.
type Queue struct {
	db        *gorm.DB
	transport Transport
	from      string
	log       *logrus.Entry
	now       func() time.Time
	draining  atomic.Bool
}

// NewQueue creates a queue. A nil transport means email is not configured:
// messages are still accepted, and every delivery fails permanently.
func NewQueue(db *gorm.DB, transport Transport, opts Options) *Queue {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{
		db:        db,
		transport: transport,
		from:      opts.From,
		log:       log.WithField("component", "QUEUE"),
		now:       now,
	}
}

// EnqueueParams describes a message to queue.
type EnqueueParams struct {
	To             string
	Subject        string
	HTML           string
	Text           string
	TemplateName   TemplateName
	TemplateParams map[string]any
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// DeliveryResult is the outcome of a single delivery attempt. A failed
// attempt is reported here, not as an error.
type DeliveryResult struct {
	MessageID string               `json:"message_id"`
	Success   bool                 `json:"success"`
	Status    domain.MessageStatus `json:"status"`
	Attempts  int                  `json:"attempts"`
	Error     string               `json:"error,omitempty"`
}

// Stats are queue-wide counts. Dead messages are failed ones that have used
// every attempt.
type Stats struct {
	Total       int64 `json:"total"`
	Pending     int64 `json:"pending"`
	Sent        int64 `json:"sent"`
	Failed      int64 `json:"failed"`
	Dead        int64 `json:"dead"`
	SuccessRate int   `json:"success_rate"`
}

// ListFilter selects messages for List.
type ListFilter struct {
	Status domain.MessageStatus
	Page   int
	Limit  int
}

// Enqueue stores a pending message. It never attempts delivery.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*domain.NotificationMessage, error) {
	if p.To == "" {
		return nil, apperrors.Validation("recipient is required")
	}
	if p.Subject == "" {
		return nil, apperrors.Validation("subject is required")
	}

	msg := &domain.NotificationMessage{
		To:             p.To,
		From:           q.from,
		Subject:        p.Subject,
		HTML:           p.HTML,
		Text:           p.Text,
		TemplateParams: p.TemplateParams,
		Status:         domain.MessageStatusPending,
	}
	if p.TemplateName != "" {
		name := string(p.TemplateName)
		msg.TemplateName = &name
	}

	if err := q.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}

	metrics.RecordNotificationEnqueued(string(p.TemplateName))
	q.log.WithFields(logrus.Fields{"message_id": msg.ID, "to": msg.To, "template": p.TemplateName}).
		Info("Email queued")
	return msg, nil
}

// EnqueueTemplate renders the named template and queues the result with the
// template name and parameters recorded on the row.
func (q *Queue) EnqueueTemplate(ctx context.Context, to string, name TemplateName, data any) (*domain.NotificationMessage, error) {
	rendered, err := Render(name, data)
	if err != nil {
		return nil, err
	}
	params, err := templateParams(data)
	if err != nil {
		return nil, fmt.Errorf("encode template params: %w", err)
	}
	return q.Enqueue(ctx, EnqueueParams{
		To:             to,
		Subject:        rendered.Subject,
		HTML:           rendered.HTML,
		Text:           rendered.Text,
		TemplateName:   name,
		TemplateParams: params,
	})
}

// TriggerDrain runs DrainBatch unless another drain is already running in
// this process, in which case it returns ran=false without doing anything.
func (q *Queue) TriggerDrain(ctx context.Context, batchSize int) (DrainResult, bool, error) {
	if !q.draining.CompareAndSwap(false, true) {
		q.log.Debug("Email queue processing already in progress, skipping")
		metrics.RecordNotificationDrain("skipped", 0)
		return DrainResult{}, false, nil
	}
	defer q.draining.Store(false)

	start := time.Now()
	res, err := q.DrainBatch(ctx, batchSize)
	if err != nil {
		metrics.RecordNotificationDrain("error", time.Since(start))
		q.log.WithError(err).Error("Email queue processing error")
		return res, true, err
	}

	metrics.RecordNotificationDrain("completed", time.Since(start))
	if res.Processed > 0 {
		q.log.WithFields(logrus.Fields{
			"processed": res.Processed,
			"succeeded": res.Succeeded,
			"failed":    res.Failed,
		}).Info("Processed email batch")
	}
	return res, true, nil
}

// DrainBatch delivers up to batchSize eligible messages, oldest first, one at
// a time. A store error aborts the batch; delivery failures do not.
func (q *Queue) DrainBatch(ctx context.Context, batchSize int) (DrainResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if _, err := q.FailExhausted(ctx); err != nil {
		return DrainResult{}, err
	}

	var batch []domain.NotificationMessage
	err := q.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", domain.MessageStatusPending, AttemptLimit).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&batch).Error
	if err != nil {
		return DrainResult{}, fmt.Errorf("load pending messages: %w", err)
	}

	var res DrainResult
	for i := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := q.deliver(ctx, &batch[i])
		if err != nil {
			return res, err
		}
		res.Processed++
		if out.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// ErrOutcomeNotRecorded is stored on messages whose final attempt was counted
// but whose result never reached the store.
const ErrOutcomeNotRecorded = "attempt outcome not recorded"

// FailExhausted marks pending messages that have already used every attempt
// as failed. Such rows are left behind when the process dies mid-send or the
// outcome write fails; the drain would otherwise never select them again.
func (q *Queue) FailExhausted(ctx context.Context) (int64, error) {
	res := q.db.WithContext(ctx).Model(&domain.NotificationMessage{}).
		Where("status = ? AND attempts >= ?", domain.MessageStatusPending, AttemptLimit).
		Updates(map[string]any{
			"status":     domain.MessageStatusFailed,
			"last_error": ErrOutcomeNotRecorded,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("fail exhausted messages: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		q.log.WithField("count", res.RowsAffected).Warn("Marked exhausted pending emails as failed")
	}
	return res.RowsAffected, nil
}

// Deliver attempts delivery of one message by id.
func (q *Queue) Deliver(ctx context.Context, id string) (DeliveryResult, error) {
	msg, err := q.find(ctx, id)
	if err != nil {
		return DeliveryResult{}, err
	}
	if msg.Status == domain.MessageStatusSent {
		return DeliveryResult{}, apperrors.Validation("message has already been sent")
	}
	return q.deliver(ctx, msg)
}

// Retry resets a message to pending with zero attempts and delivers it
// immediately, bypassing batch order.
func (q *Queue) Retry(ctx context.Context, id string) (DeliveryResult, error) {
	msg, err := q.find(ctx, id)
	if err != nil {
		return DeliveryResult{}, err
	}
	if msg.Status == domain.MessageStatusSent {
		return DeliveryResult{}, apperrors.Validation("message has already been sent")
	}

	err = q.db.WithContext(ctx).Model(&domain.NotificationMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.MessageStatusPending,
			"attempts":   0,
			"last_error": nil,
		}).Error
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("reset message: %w", err)
	}
	msg.Status = domain.MessageStatusPending
	msg.Attempts = 0
	msg.LastError = nil

	q.log.WithField("message_id", id).Info("Email reset for retry")
	return q.deliver(ctx, msg)
}

// deliver records the attempt before calling the transport so an attempt
// that never returns is still counted.
func (q *Queue) deliver(ctx context.Context, msg *domain.NotificationMessage) (DeliveryResult, error) {
	now := q.now()
	err := q.db.WithContext(ctx).Model(&domain.NotificationMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + ?", 1),
			"last_attempt_at": now,
		}).Error
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("record attempt: %w", err)
	}
	msg.Attempts++
	msg.LastAttemptAt = &now

	log := q.log.WithFields(logrus.Fields{"message_id": msg.ID, "attempt": msg.Attempts})

	var sendErr error
	if q.transport == nil {
		sendErr = apperrors.New(apperrors.ErrCodeTransportUnconfigured, "email transport not configured")
	} else {
		sendErr = q.transport.Send(ctx, Email{
			To:      msg.To,
			From:    msg.From,
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
		})
	}

	// The outcome must be recorded even if the caller gave up mid-send.
	recordCtx := context.WithoutCancel(ctx)

	if sendErr == nil {
		sentAt := q.now()
		err := q.db.WithContext(recordCtx).Model(&domain.NotificationMessage{}).
			Where("id = ?", msg.ID).
			Updates(map[string]any{
				"status":     domain.MessageStatusSent,
				"sent_at":    sentAt,
				"last_error": nil,
			}).Error
		if err != nil {
			return DeliveryResult{}, fmt.Errorf("mark message sent: %w", err)
		}
		msg.Status = domain.MessageStatusSent
		msg.SentAt = &sentAt

		metrics.RecordNotificationDelivery("sent")
		log.WithField("to", msg.To).Info("Email sent")
		return DeliveryResult{MessageID: msg.ID, Success: true, Status: msg.Status, Attempts: msg.Attempts}, nil
	}

	status := domain.MessageStatusPending
	outcome := "retry"
	if apperrors.IsTransportUnconfigured(sendErr) || msg.Attempts >= AttemptLimit {
		status = domain.MessageStatusFailed
		outcome = "failed"
	}
	errText := sendErr.Error()

	err = q.db.WithContext(recordCtx).Model(&domain.NotificationMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]any{
			"status":     status,
			"last_error": errText,
		}).Error
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("record delivery failure: %w", err)
	}
	msg.Status = status
	msg.LastError = &errText

	metrics.RecordNotificationDelivery(outcome)
	entry := log.WithError(sendErr).WithField("status", status)
	if status == domain.MessageStatusFailed {
		entry.Error("Email failed")
	} else {
		entry.Warn("Email delivery failed, will retry")
	}

	return DeliveryResult{
		MessageID: msg.ID,
		Success:   false,
		Status:    status,
		Attempts:  msg.Attempts,
		Error:     errText,
	}, nil
}

// Get returns one message.
func (q *Queue) Get(ctx context.Context, id string) (*domain.NotificationMessage, error) {
	return q.find(ctx, id)
}

// Stats counts messages by status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status domain.MessageStatus
		Count  int64
	}
	db := q.db.WithContext(ctx)
	err := db.Model(&domain.NotificationMessage{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}

	var s Stats
	for _, r := range rows {
		s.Total += r.Count
		switch r.Status {
		case domain.MessageStatusPending:
			s.Pending = r.Count
		case domain.MessageStatusSent:
			s.Sent = r.Count
		case domain.MessageStatusFailed:
			s.Failed = r.Count
		}
	}

	err = db.Model(&domain.NotificationMessage{}).
		Where("status = ? AND attempts >= ?", domain.MessageStatusFailed, AttemptLimit).
		Count(&s.Dead).Error
	if err != nil {
		return Stats{}, fmt.Errorf("count dead messages: %w", err)
	}

	if s.Total > 0 {
		s.SuccessRate = int(math.Round(float64(s.Sent) / float64(s.Total) * 100))
	}
	return s, nil
}

// List returns messages newest first with the total matching count.
func (q *Queue) List(ctx context.Context, f ListFilter) ([]domain.NotificationMessage, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}

	filter := func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		return db
	}

	var total int64
	if err := q.db.WithContext(ctx).Model(&domain.NotificationMessage{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	var msgs []domain.NotificationMessage
	err := q.db.WithContext(ctx).Scopes(filter).Order("created_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return msgs, total, nil
}

func (q *Queue) find(ctx context.Context, id string) (*domain.NotificationMessage, error) {
	var msg domain.NotificationMessage
	err := q.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	return &msg, nil
}
