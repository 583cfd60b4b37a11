package orgs

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgportal/pkg/entities"
	"github.com/platinummonkey/orgportal/pkg/entitymeta"
	"github.com/platinummonkey/orgportal/pkg/firehose"
)

type recordingHandler struct {
	types       []string
	interesting bool
	err         error
	events      []*Event
}

func (h *recordingHandler) Handles() []string { return h.types }

func (h *recordingHandler) Handle(ctx context.Context, org *Organization, event *Event) (bool, error) {
	h.events = append(h.events, event)
	return h.interesting, h.err
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func webhookMessage(eventType string, body map[string]interface{}) *firehose.QueueMessage {
	return &firehose.QueueMessage{
		Identifier:       "m1",
		Body:             body,
		CustomProperties: map[string]string{"event": eventType},
	}
}

func TestProcessorDispatchesByEventType(t *testing.T) {
	memberHandler := &recordingHandler{types: []string{"member"}, interesting: true}
	pushHandler := &recordingHandler{types: []string{"push"}}
	catchAll := &recordingHandler{types: []string{"*"}, interesting: true}
	processor := NewProcessor(NewDirectory(testConfig()), quietLogger(), memberHandler, pushHandler, catchAll)

	acked := 0
	count, err := processor.ProcessOrganizationWebhook(context.Background(), firehose.ProcessOptions{
		OrganizationName: "contoso",
		Message: webhookMessage("member", map[string]interface{}{
			"action": "added",
			"member": map[string]interface{}{"login": "grace"},
		}),
		Acknowledge: func() { acked++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, acked)
	require.Len(t, memberHandler.events, 1)
	assert.Equal(t, "added", memberHandler.events[0].Action)
	assert.Equal(t, "contoso", memberHandler.events[0].OrganizationLogin)
	assert.Empty(t, pushHandler.events)
	assert.Len(t, catchAll.events, 1)
}

func TestProcessorUnknownOrganization(t *testing.T) {
	processor := NewProcessor(NewDirectory(testConfig()), quietLogger())

	_, err := processor.ProcessOrganizationWebhook(context.Background(), firehose.ProcessOptions{
		OrganizationName: "ghost",
		Message:          webhookMessage("push", map[string]interface{}{}),
	})
	assert.Error(t, err)
}

func TestProcessorInactiveOrganizationAcksAndDrops(t *testing.T) {
	handler := &recordingHandler{types: []string{"*"}, interesting: true}
	processor := NewProcessor(NewDirectory(testConfig()), quietLogger(), handler)

	acked := false
	count, err := processor.ProcessOrganizationWebhook(context.Background(), firehose.ProcessOptions{
		OrganizationName: "fabrikam",
		Message:          webhookMessage("push", map[string]interface{}{}),
		Acknowledge:      func() { acked = true },
	})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, acked)
	assert.Empty(t, handler.events)
}

func TestProcessorHandlerErrorDoesNotStopOthers(t *testing.T) {
	boom := errors.New("handler exploded")
	failing := &recordingHandler{types: []string{"team"}, err: boom}
	healthy := &recordingHandler{types: []string{"team"}, interesting: true}
	processor := NewProcessor(NewDirectory(testConfig()), quietLogger(), failing, healthy)

	count, err := processor.ProcessOrganizationWebhook(context.Background(), firehose.ProcessOptions{
		OrganizationName: "contoso",
		Message:          webhookMessage("team", map[string]interface{}{"action": "created"}),
		Acknowledge:      func() {},
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count)
	assert.Len(t, healthy.events, 1)
}

func TestAuditEventHandlerRecordsLifecycleEvents(t *testing.T) {
	provider, err := entitymeta.OpenSQLite(":memory:", entitymeta.SQLiteOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })
	require.NoError(t, provider.EnsureSchema(context.Background()))
	records := entities.NewAuditRecordStore(provider)

	processor := NewProcessor(NewDirectory(testConfig()), quietLogger(), NewAuditEventHandler(records))
	ctx := context.Background()

	count, err := processor.ProcessOrganizationWebhook(ctx, firehose.ProcessOptions{
		OrganizationName: "contoso",
		Message: webhookMessage("repository", map[string]interface{}{
			"action":     "created",
			"sender":     map[string]interface{}{"login": "ada"},
			"repository": map[string]interface{}{"name": "telemetry-agent"},
		}),
		Acknowledge: func() {},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Actionless deliveries are valid but uninteresting.
	count, err = processor.ProcessOrganizationWebhook(ctx, firehose.ProcessOptions{
		OrganizationName: "contoso",
		Message:          webhookMessage("repository", map[string]interface{}{}),
		Acknowledge:      func() {},
	})
	require.NoError(t, err)
	assert.Zero(t, count)

	trail, err := records.ByRepository(ctx, "telemetry-agent")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "repository.created", trail[0].Action)
	assert.Equal(t, "ada", trail[0].ActorUsername)
	assert.Equal(t, "contoso", trail[0].OrganizationLogin)
}
