package orgs

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/orgportal/pkg/entities"
	"github.com/platinummonkey/orgportal/pkg/firehose"
)

// Event is one webhook delivery addressed to a configured organization.
type Event struct {
	OrganizationLogin string
	Type              string
	Action            string
	Body              map[string]interface{}
	RawBody           []byte
	Properties        map[string]string
}

// EventHandler inspects one event and reports whether it was interesting.
type EventHandler interface {
	// Handles lists the event types the handler wants, lowercase. "*"
	// subscribes to everything.
	Handles() []string

	Handle(ctx context.Context, org *Organization, event *Event) (bool, error)
}

// Processor routes webhook deliveries to the registered handlers for the
// target organization. It implements the contract the firehose worker drains
// into.
type Processor struct {
	directory *Directory
	logger    logrus.FieldLogger
	handlers  map[string][]EventHandler
}

func NewProcessor(directory *Directory, logger logrus.FieldLogger, handlers ...EventHandler) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &Processor{
		directory: directory,
		logger:    logger,
		handlers:  make(map[string][]EventHandler),
	}
	for _, handler := range handlers {
		p.Register(handler)
	}
	return p
}

// Register subscribes a handler to its declared event types.
func (p *Processor) Register(handler EventHandler) {
	for _, eventType := range handler.Handles() {
		key := strings.ToLower(eventType)
		p.handlers[key] = append(p.handlers[key], handler)
	}
}

// ProcessOrganizationWebhook dispatches one delivery. The delivery is
// acknowledged once it reaches a configured organization: handler failures
// are logged, not retried, matching the at-most-once processing of the rest
// of the pipeline.
func (p *Processor) ProcessOrganizationWebhook(ctx context.Context, opts firehose.ProcessOptions) (int, error) {
	org, err := p.directory.GetOrganization(opts.OrganizationName)
	if err != nil {
		return 0, err
	}

	event := &Event{
		OrganizationLogin: org.Login,
		Type:              strings.ToLower(opts.Message.EventType()),
		Body:              opts.Message.Body,
		RawBody:           opts.Message.UnparsedBody,
		Properties:        opts.Message.CustomProperties,
	}
	if action, ok := opts.Message.Body["action"].(string); ok {
		event.Action = action
	}

	if opts.Acknowledge != nil {
		opts.Acknowledge()
	}
	if !org.Active {
		p.logger.WithField("organization", org.Login).Debug("dropping event for inactive organization")
		return 0, nil
	}

	interesting := 0
	var firstErr error
	for _, handler := range p.handlersFor(event.Type) {
		was, err := handler.Handle(ctx, org, event)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"organization": org.Login,
				"event":        event.Type,
				"action":       event.Action,
			}).Warn("webhook handler failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if was {
			interesting++
		}
	}
	return interesting, firstErr
}

func (p *Processor) handlersFor(eventType string) []EventHandler {
	handlers := p.handlers[eventType]
	if wildcard := p.handlers["*"]; len(wildcard) > 0 {
		handlers = append(append([]EventHandler(nil), handlers...), wildcard...)
	}
	return handlers
}

// AuditEventHandler writes membership and repository lifecycle events to the
// audit trail.
type AuditEventHandler struct {
	records *entities.AuditRecordStore
}

func NewAuditEventHandler(records *entities.AuditRecordStore) *AuditEventHandler {
	return &AuditEventHandler{records: records}
}

func (h *AuditEventHandler) Handles() []string {
	return []string{"repository", "member", "membership", "team", "organization"}
}

func (h *AuditEventHandler) Handle(ctx context.Context, org *Organization, event *Event) (bool, error) {
	if event.Action == "" {
		return false, nil
	}
	record := entities.NewAuditRecord(fmt.Sprintf("%s.%s", event.Type, event.Action))
	record.OrganizationLogin = org.Login
	if sender, ok := event.Body["sender"].(map[string]interface{}); ok {
		if login, ok := sender["login"].(string); ok {
			record.ActorUsername = login
		}
	}
	if repo, ok := event.Body["repository"].(map[string]interface{}); ok {
		if name, ok := repo["name"].(string); ok {
			record.RepositoryName = name
		}
	}
	if team, ok := event.Body["team"].(map[string]interface{}); ok {
		if name, ok := team["name"].(string); ok {
			record.TeamName = name
		}
	}
	if member, ok := event.Body["member"].(map[string]interface{}); ok {
		if login, ok := member["login"].(string); ok {
			record.UserUsername = login
		}
	}
	if err := h.records.Append(ctx, record); err != nil {
		return false, fmt.Errorf("append audit record: %w", err)
	}
	return true, nil
}
