package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/duespark/dunning/internal/gateway"
	"github.com/duespark/dunning/internal/metrics"
	"github.com/duespark/dunning/internal/model"
	"github.com/duespark/dunning/internal/ratelimit"
	"github.com/duespark/dunning/internal/repository"
	"github.com/duespark/dunning/internal/template"
	"github.com/duespark/dunning/internal/util"
	"go.uber.org/zap"
)

// Bucket classifies one collection's outcome in a worker run.
type Bucket int

const (
	BucketProcessed Bucket = iota
	BucketSkipped
	BucketErrored
)

// Outcome is the result of advancing one collection.
type Outcome struct {
	Bucket    Bucket
	Reason    string
	Sent      bool
	Completed bool
}

// Machine decides and persists what happens to a collection when its
// next_action_at comes due: send the next playbook step, skip it, back off,
// or complete the run. It is the only writer of collection state; manual
// pause/resume/complete go through the same transition table.
type Machine struct {
	repo        repository.CollectionsRepository
	gw          gateway.Gateway
	limits      ratelimit.Limits
	topic       string
	sendTimeout time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	log         *zap.Logger
}

type MachineOpts struct {
	Limits      ratelimit.Limits
	Topic       string
	SendTimeout time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func NewMachine(repo repository.CollectionsRepository, gw gateway.Gateway, opts MachineOpts, log *zap.Logger) *Machine {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 15 * time.Minute
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 6 * time.Hour
	}
	if opts.Topic == "" {
		opts.Topic = "collections.events"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		repo:        repo,
		gw:          gw,
		limits:      opts.Limits,
		topic:       opts.Topic,
		sendTimeout: opts.SendTimeout,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		log:         log,
	}
}

// Advance evaluates one eligible collection against its playbook steps.
// stats is the run's rate-limit snapshot; it is bumped in memory after every
// successful send so limits hold strictly within a run, not only across runs.
func (m *Machine) Advance(ctx context.Context, ec *model.EligibleCollection, steps []model.PlaybookMessage, stats map[int64]*ratelimit.TenantStats, now time.Time) Outcome {
	idx := ec.CurrentMessageIndex

	// past the end of the playbook: natural completion, no send attempt
	if idx >= len(steps) {
		if err := m.repo.Complete(ctx, &ec.Collection, now); err != nil {
			return Outcome{Bucket: BucketErrored, Reason: err.Error()}
		}
		return Outcome{Bucket: BucketProcessed, Completed: true}
	}

	step := steps[idx]

	// customer already replied: drop this step, move to the next one
	if step.SendOnlyIfNoResponse && ec.CustomerResponded {
		adv := m.nextAdvance(idx+1, steps, now)
		if err := m.repo.AdvanceWithoutSend(ctx, &ec.Collection, adv); err != nil {
			return Outcome{Bucket: BucketErrored, Reason: err.Error()}
		}
		return Outcome{Bucket: BucketProcessed, Reason: "skipped_no_response", Completed: adv.Completed}
	}

	decision := ratelimit.Check(
		ratelimit.Candidate{TenantID: ec.TenantID, ContactID: ec.PrimaryContactID},
		stats, m.limits, now,
	)
	if !decision.Allowed {
		// leave the row untouched; it is retried on the next cycle
		return Outcome{Bucket: BucketSkipped, Reason: decision.Reason}
	}

	vars := templateVars(ec, now)
	body := template.Render(step.BodyTemplate, vars)
	subject := ""
	if step.SubjectTemplate.Valid {
		subject = template.Render(step.SubjectTemplate.String, vars)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	res := m.gw.Send(sendCtx, gateway.Request{
		Channel: step.Channel,
		To:      ec.Contact.Address(step.Channel),
		Subject: subject,
		Body:    body,
		Metadata: map[string]string{
			"collection_id": ec.ID,
			"invoice_id":    ec.InvoiceID,
		},
	})
	cancel()

	if !res.Success {
		metrics.MessagesTotal.WithLabelValues(step.Channel.String(), "failed").Inc()
		backoff := m.backoffFor(ec.SendFailures)
		if err := m.repo.RecordSendFailure(ctx, &ec.Collection, now.Add(backoff)); err != nil {
			return Outcome{Bucket: BucketErrored, Reason: err.Error()}
		}
		m.log.Warn("send failed",
			zap.String("collection_id", ec.ID),
			zap.String("channel", step.Channel.String()),
			zap.String("error", res.Error),
			zap.Duration("backoff", backoff),
		)
		return Outcome{Bucket: BucketErrored, Reason: res.Error}
	}

	msg := model.SentMessage{
		ID:             util.New(),
		TenantID:       ec.TenantID,
		CollectionID:   ec.ID,
		ContactID:      ec.PrimaryContactID,
		Channel:        step.Channel,
		Body:           body,
		DeliveryStatus: model.DeliverySent,
		SentAt:         now,
	}
	if subject != "" {
		msg.Subject = sql.NullString{String: subject, Valid: true}
	}
	if res.MessageID != "" {
		msg.ExternalMessageID = sql.NullString{String: res.MessageID, Valid: true}
	}

	payload, err := json.Marshal(model.SentMessageEvent{
		ID:                msg.ID,
		TenantID:          msg.TenantID,
		CollectionID:      msg.CollectionID,
		ContactID:         msg.ContactID,
		Channel:           msg.Channel,
		Subject:           subject,
		Body:              body,
		DeliveryStatus:    msg.DeliveryStatus.String(),
		ExternalMessageID: res.MessageID,
		SentAt:            now,
	})
	if err != nil {
		return Outcome{Bucket: BucketErrored, Reason: err.Error()}
	}

	adv := m.nextAdvance(idx+1, steps, now)
	if err := m.repo.RecordSend(ctx, &ec.Collection, msg, payload, m.topic, adv); err != nil {
		// the message went out but we failed to record it; the step will be
		// retried next run, which can double-send, so surface loudly
		m.log.Error("sent but failed to persist",
			zap.String("collection_id", ec.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return Outcome{Bucket: BucketErrored, Reason: err.Error()}
	}

	metrics.MessagesTotal.WithLabelValues(step.Channel.String(), "sent").Inc()
	bumpStats(stats, ec.TenantID, ec.PrimaryContactID, now)

	return Outcome{Bucket: BucketProcessed, Sent: true, Completed: adv.Completed}
}

// nextAdvance computes where the collection lands after finishing step
// nextIdx-1: completed past the last step, otherwise eligible again after the
// next step's wait_days.
func (m *Machine) nextAdvance(nextIdx int, steps []model.PlaybookMessage, now time.Time) repository.Advance {
	if nextIdx >= len(steps) {
		return repository.Advance{NextIndex: nextIdx, NextActionAt: now, Completed: true}
	}
	wait := time.Duration(steps[nextIdx].WaitDays) * 24 * time.Hour
	return repository.Advance{NextIndex: nextIdx, NextActionAt: now.Add(wait)}
}

// backoffFor doubles the base per prior failure, capped.
func (m *Machine) backoffFor(failures int) time.Duration {
	backoff := m.backoffBase
	for i := 0; i < failures && backoff < m.backoffMax; i++ {
		backoff *= 2
	}
	if backoff > m.backoffMax {
		backoff = m.backoffMax
	}
	return backoff
}

func bumpStats(stats map[int64]*ratelimit.TenantStats, tenantID int64, contactID string, now time.Time) {
	ts, ok := stats[tenantID]
	if !ok || ts == nil {
		ts = &ratelimit.TenantStats{}
		stats[tenantID] = ts
	}
	ts.RecordSend(contactID, now)
}

// templateVars maps invoice, company and contact fields into the variable set
// playbook templates may reference.
func templateVars(ec *model.EligibleCollection, now time.Time) map[string]string {
	return map[string]string{
		"invoice_number": ec.Invoice.Number,
		"amount":         util.FormatAmount(ec.Invoice.AmountCents, ec.Invoice.Currency),
		"currency":       ec.Invoice.Currency,
		"due_date":       ec.Invoice.DueDate.Format("January 2, 2006"),
		"days_overdue":   strconv.Itoa(ec.Invoice.DaysOverdue(now)),
		"first_name":     ec.Contact.FirstName,
		"last_name":      ec.Contact.LastName,
		"company_name":   ec.Company.Name,
	}
}
