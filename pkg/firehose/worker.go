package firehose

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/orgportal/pkg/observability"
)

// OrganizationResolver maps webhook payloads to configured organizations.
type OrganizationResolver interface {
	// GetOrganizationByID maps an application installation target id to the
	// configured organization's name.
	GetOrganizationByID(ctx context.Context, id int64) (string, error)

	// GetOrganization fails when the named organization is not configured.
	GetOrganization(ctx context.Context, name string) error

	// IsIgnoredOrganization reports whether the organization is known but
	// deliberately unmanaged.
	IsIgnoredOrganization(name string) bool
}

// ProcessOptions is handed to the webhook processor for one delivery.
type ProcessOptions struct {
	OrganizationName string
	Message          *QueueMessage

	// Acknowledge deletes the message from the queue. The processor calls
	// it once it has decided the event is valid, whether or not it was
	// interesting.
	Acknowledge func()
}

// WebhookProcessor dispatches one delivery to the organization's handlers
// and reports how many interesting events it produced.
type WebhookProcessor interface {
	ProcessOrganizationWebhook(ctx context.Context, opts ProcessOptions) (int, error)
}

// Outcomes recorded per message.
const (
	outcomeProcessed     = "processed"
	outcomeProcessError  = "process_error"
	outcomeNoOrg         = "acked_no_org"
	outcomeIgnoredOrg    = "ignored_org"
	outcomeMissingOrg    = "missing_org_config"
	outcomeInvalidTarget = "invalid_target"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Queue         Queue
	Organizations OrganizationResolver
	Processor     WebhookProcessor
	Logger        logrus.FieldLogger
	Metrics       *observability.Metrics

	// Deliveries optionally retains recent delivery records for the
	// diagnostics endpoints.
	Deliveries *DeliveryLog

	// Parallelism is the number of concurrent drain loops. Defaults to 2.
	Parallelism int

	// EmptyQueueDelay is how long a loop sleeps after an empty or failed
	// receive. Defaults to 10s.
	EmptyQueueDelay time.Duration
}

// Worker drains the webhook queue with a fixed fan-out of drain loops. Each
// loop receives a batch, handles every message in order, and isolates
// per-message failures so one poison message never stalls the queue.
type Worker struct {
	queue           Queue
	organizations   OrganizationResolver
	processor       WebhookProcessor
	logger          logrus.FieldLogger
	metrics         *observability.Metrics
	deliveries      *DeliveryLog
	parallelism     int
	emptyQueueDelay time.Duration
	tracer          trace.Tracer
}

func NewWorker(opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 2
	}
	delay := opts.EmptyQueueDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	return &Worker{
		queue:           opts.Queue,
		organizations:   opts.Organizations,
		processor:       opts.Processor,
		logger:          logger,
		metrics:         opts.Metrics,
		deliveries:      opts.Deliveries,
		parallelism:     parallelism,
		emptyQueueDelay: delay,
		tracer:          otel.Tracer("orgportal/firehose"),
	}
}

// Run blocks until the context is canceled, fanning out the configured
// number of drain loops.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithField("parallelism", w.parallelism).Info("firehose worker starting")
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.parallelism; i++ {
		loop := i
		group.Go(func() error {
			return w.drainLoop(ctx, loop)
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) drainLoop(ctx context.Context, loop int) error {
	logger := w.logger.WithField("loop", loop)
	if w.metrics != nil {
		w.metrics.FirehoseWorkersActive.Inc()
		defer w.metrics.FirehoseWorkersActive.Dec()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.iterate(ctx, logger)
	}
}

// iterate performs one receive-and-handle pass. Receive failures and empty
// batches both back off by the empty-queue delay.
func (w *Worker) iterate(ctx context.Context, logger logrus.FieldLogger) {
	messages, err := w.queue.ReceiveMessages(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to receive webhook messages")
		w.wait(ctx)
		return
	}
	if len(messages) == 0 {
		logger.Debugf("empty queue, %s until retry", w.emptyQueueDelay)
		w.wait(ctx)
		return
	}
	for _, message := range messages {
		if err := w.handle(ctx, message); err != nil {
			logger.WithError(err).WithField("message", message.Identifier).Error("webhook processing error")
		}
	}
}

func (w *Worker) wait(ctx context.Context) {
	timer := time.NewTimer(w.emptyQueueDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// handle routes one delivery. Messages that cannot be attributed to any
// configured organization are acknowledged rather than retried: redelivery
// can never fix them.
func (w *Worker) handle(ctx context.Context, message *QueueMessage) error {
	eventType := message.EventType()
	ctx, span := w.tracer.Start(ctx, "firehose.handle",
		trace.WithAttributes(
			attribute.String("webhook.event", eventType),
			attribute.String("webhook.message", message.Identifier),
		))
	defer span.End()

	start := time.Now()
	if enqueued := message.EnqueuedAt(); !enqueued.IsZero() && w.metrics != nil {
		w.metrics.FirehoseQueueDelay.Observe(time.Since(enqueued).Seconds())
	}
	defer func() {
		if w.metrics != nil {
			w.metrics.FirehoseProcessDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		}
	}()

	logger := w.logger.WithFields(logrus.Fields{
		"message": message.Identifier,
		"event":   eventType,
	})

	// Both the worker and the processor may decide to acknowledge; the
	// message is deleted exactly once either way.
	var ackOnce sync.Once
	acknowledge := func() {
		ackOnce.Do(func() {
			if err := w.queue.DeleteMessage(ctx, message); err != nil {
				logger.WithError(err).Error("failed to delete webhook message")
				return
			}
			logger.Debug("message deleted")
		})
	}

	orgName, outcome, err := w.resolveOrganizationName(ctx, message, logger, acknowledge)
	if outcome != "" {
		w.record(message, "", outcome, start, 0)
		return err
	}

	if err := w.organizations.GetOrganization(ctx, orgName); err != nil {
		acknowledge()
		if w.organizations.IsIgnoredOrganization(orgName) {
			// Events for onboarding or deliberately unmanaged orgs are
			// routine, not exceptional.
			logger.WithField("organization", orgName).Info("event for ignored organization skipped")
			w.record(message, orgName, outcomeIgnoredOrg, start, 0)
			return nil
		}
		logger.WithError(err).WithField("organization", orgName).Error("organization not configured")
		if w.metrics != nil {
			w.metrics.FirehoseMissingOrgTotal.Inc()
		}
		w.record(message, orgName, outcomeMissingOrg, start, 0)
		return nil
	}

	interesting, err := w.processor.ProcessOrganizationWebhook(ctx, ProcessOptions{
		OrganizationName: orgName,
		Message:          message,
		Acknowledge:      acknowledge,
	})
	if err != nil {
		// Logged but not returned: the message stays on the queue for
		// redelivery unless the processor already acknowledged it.
		logger.WithError(err).Warn("queue processing error during dispatch")
		w.record(message, orgName, outcomeProcessError, start, 0)
		return nil
	}
	if interesting > 0 {
		logger.WithField("interesting", interesting).Debug("webhook dispatched")
	}
	acknowledge()
	w.record(message, orgName, outcomeProcessed, start, interesting)
	return nil
}

// resolveOrganizationName extracts the target organization from the payload.
// A non-empty outcome means handling is finished for this message.
func (w *Worker) resolveOrganizationName(ctx context.Context, message *QueueMessage, logger logrus.FieldLogger, acknowledge func()) (string, string, error) {
	eventType := message.EventType()
	orgName := ""

	if installation, ok := message.Body["installation"].(map[string]interface{}); ok {
		targetType, _ := installation["target_type"].(string)
		switch {
		case targetType == "Organization":
			id := asID(installation["target_id"])
			name, err := w.organizations.GetOrganizationByID(ctx, id)
			if err != nil {
				logger.WithField("target_id", id).Info("installation target organization not configured")
				acknowledge()
				return "", outcomeNoOrg, nil
			}
			orgName = name
		case targetType != "":
			logger.WithField("target_type", targetType).Info("unsupported installation target type")
			acknowledge()
			return "", outcomeInvalidTarget, nil
		}
	}

	if orgName == "" {
		if organization, ok := message.Body["organization"].(map[string]interface{}); ok {
			orgName, _ = organization["login"].(string)
		}
	}

	if orgName == "" {
		acknowledge()
		if eventType == "ping" || eventType == "installation" {
			// Routine platform events with no org context.
			return "", outcomeNoOrg, nil
		}
		return "", outcomeNoOrg, errors.New("no organization login present in the event body")
	}

	return orgName, "", nil
}

func (w *Worker) record(message *QueueMessage, orgName, outcome string, started time.Time, interesting int) {
	if w.metrics != nil {
		w.metrics.FirehoseMessagesTotal.WithLabelValues(message.EventType(), outcome).Inc()
	}
	if w.deliveries != nil {
		w.deliveries.Add(DeliveryRecord{
			Identifier:        message.Identifier,
			EventType:         message.EventType(),
			OrganizationLogin: orgName,
			Outcome:           outcome,
			InterestingEvents: interesting,
			ReceivedAt:        started,
			Duration:          time.Since(started),
		})
	}
}

func asID(value interface{}) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
