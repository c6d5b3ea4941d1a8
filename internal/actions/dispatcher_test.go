package actions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronflow/cronflow/internal/dispatch"
	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/notify"
	"github.com/cronflow/cronflow/internal/render"
	"github.com/cronflow/cronflow/internal/store"
)

type actionStore struct {
	creds map[uuid.UUID]*models.Credential
}

func (s *actionStore) GetEvent(context.Context, uuid.UUID) (*models.Event, error) {
	return nil, store.ErrNotFound
}
func (s *actionStore) UpdateEvent(context.Context, *models.Event) error { return nil }
func (s *actionStore) UpdateEventFields(context.Context, uuid.UUID, map[string]any) error {
	return nil
}
func (s *actionStore) ListActiveEvents(context.Context) ([]models.Event, error) { return nil, nil }
func (s *actionStore) CreateLog(context.Context, *models.ExecutionLog) error    { return nil }
func (s *actionStore) UpdateLog(context.Context, *models.ExecutionLog) error    { return nil }
func (s *actionStore) GetVariables(context.Context) (map[string]string, error)  { return nil, nil }
func (s *actionStore) SetVariable(context.Context, string, string) error        { return nil }
func (s *actionStore) DeleteVariable(context.Context, string) error             { return nil }
func (s *actionStore) GetCredential(_ context.Context, id uuid.UUID) (*models.Credential, error) {
	if c, ok := s.creds[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

type sentMessage struct {
	cred *models.Credential
	msg  notify.Message
}

// fakeNotifier captures sends for one channel kind.
type fakeNotifier struct {
	kind string
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Kind() string { return f.kind }
func (f *fakeNotifier) Send(_ context.Context, cred *models.Credential, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{cred: cred, msg: msg})
	return f.err
}

type fakeChainer struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeChainer) RunChained(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakeChainer) chained() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.ids...)
}

func newTestDispatcher(st *actionStore, defaultEmail *models.Credential, notifiers ...notify.Notifier) *Dispatcher {
	if st == nil {
		st = &actionStore{creds: map[uuid.UUID]*models.Credential{}}
	}
	return NewDispatcher(st, notify.NewSet(notifiers...), render.NewTemplateRenderer(), defaultEmail)
}

func successOutcome(event *models.Event) dispatch.Outcome {
	now := time.Now()
	return dispatch.Outcome{
		Status:  models.ExecSuccess,
		Success: true,
		Log: &models.ExecutionLog{
			EventID:    event.ID,
			Status:     models.ExecSuccess,
			Success:    true,
			StartedAt:  now,
			EndedAt:    &now,
			DurationMs: 120,
			Stdout:     "all good",
		},
	}
}

func failureOutcome(event *models.Event) dispatch.Outcome {
	now := time.Now()
	return dispatch.Outcome{
		Status:  models.ExecFailure,
		Success: false,
		Log: &models.ExecutionLog{
			EventID:   event.ID,
			Status:    models.ExecFailure,
			StartedAt: now,
			EndedAt:   &now,
			Error:     "exit status 1",
		},
	}
}

func messageAction(class string, credID uuid.UUID) models.ConditionalAction {
	return models.ConditionalAction{
		ID:           uuid.New(),
		TriggerClass: class,
		Effect:       models.EffectSendMessage,
		ChannelKind:  models.ChannelSlack,
		Subject:      "{{eventName}} finished",
		Message:      "status: {{status}}",
		CredentialID: &credID,
	}
}

func TestDispatchFiltersByTriggerClass(t *testing.T) {
	cred := &models.Credential{ID: uuid.New(), ChannelKind: models.ChannelSlack}
	st := &actionStore{creds: map[uuid.UUID]*models.Credential{cred.ID: cred}}
	slack := &fakeNotifier{kind: models.ChannelSlack}
	d := newTestDispatcher(st, nil, slack)

	event := &models.Event{ID: uuid.New(), Name: "backup"}
	event.Actions = []models.ConditionalAction{
		messageAction(models.TriggerOnSuccess, cred.ID),
		messageAction(models.TriggerOnFailure, cred.ID),
		messageAction(models.TriggerAlways, cred.ID),
	}

	d.Dispatch(context.Background(), event, successOutcome(event))

	// on_success and always fire, on_failure does not.
	require.Len(t, slack.sent, 2)
	assert.Equal(t, "backup finished", slack.sent[0].msg.Subject)
	assert.Equal(t, "status: success", slack.sent[0].msg.Body)
}

func TestDispatchFailureClass(t *testing.T) {
	cred := &models.Credential{ID: uuid.New(), ChannelKind: models.ChannelSlack}
	st := &actionStore{creds: map[uuid.UUID]*models.Credential{cred.ID: cred}}
	slack := &fakeNotifier{kind: models.ChannelSlack}
	d := newTestDispatcher(st, nil, slack)

	event := &models.Event{ID: uuid.New(), Name: "backup"}
	event.Actions = []models.ConditionalAction{
		messageAction(models.TriggerOnSuccess, cred.ID),
		messageAction(models.TriggerOnFailure, cred.ID),
	}

	d.Dispatch(context.Background(), event, failureOutcome(event))

	require.Len(t, slack.sent, 1)
	assert.Equal(t, "status: failure", slack.sent[0].msg.Body)
}

func TestDispatchConditionGating(t *testing.T) {
	cred := &models.Credential{ID: uuid.New(), ChannelKind: models.ChannelSlack}
	st := &actionStore{creds: map[uuid.UUID]*models.Credential{cred.ID: cred}}

	event := &models.Event{ID: uuid.New(), Name: "watcher"}
	event.Actions = []models.ConditionalAction{
		messageAction(models.TriggerOnCondition, cred.ID),
	}

	cases := []struct {
		name      string
		condition *bool
		fired     int
	}{
		{"true fires", boolPtr(true), 1},
		{"false does not", boolPtr(false), 0},
		{"absent does not", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			slack := &fakeNotifier{kind: models.ChannelSlack}
			d := newTestDispatcher(st, nil, slack)

			outcome := successOutcome(event)
			outcome.Condition = tc.condition
			d.Dispatch(context.Background(), event, outcome)

			assert.Len(t, slack.sent, tc.fired)
		})
	}
}

func TestSendMessageDefaultEmailFallback(t *testing.T) {
	defaultEmail := &models.Credential{ChannelKind: models.ChannelEmail, FromAddress: "noreply@example.com"}
	email := &fakeNotifier{kind: models.ChannelEmail}
	d := newTestDispatcher(nil, defaultEmail, email)

	event := &models.Event{ID: uuid.New(), Name: "report"}
	event.Actions = []models.ConditionalAction{{
		ID:           uuid.New(),
		TriggerClass: models.TriggerAlways,
		Effect:       models.EffectSendMessage,
		ChannelKind:  models.ChannelEmail,
		Recipients:   "a@example.com, b@example.com",
		Subject:      "done",
		Message:      "done",
	}}

	d.Dispatch(context.Background(), event, successOutcome(event))

	require.Len(t, email.sent, 1)
	assert.Same(t, defaultEmail, email.sent[0].cred)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, email.sent[0].msg.Recipients)
}

func TestSendMessageNoCredentialNoFallback(t *testing.T) {
	slack := &fakeNotifier{kind: models.ChannelSlack}
	d := newTestDispatcher(nil, nil, slack)

	event := &models.Event{ID: uuid.New()}
	event.Actions = []models.ConditionalAction{{
		ID:           uuid.New(),
		TriggerClass: models.TriggerAlways,
		Effect:       models.EffectSendMessage,
		ChannelKind:  models.ChannelSlack,
	}}

	// Missing credential is logged and swallowed, never panics.
	d.Dispatch(context.Background(), event, successOutcome(event))
	assert.Empty(t, slack.sent)
}

func TestNotifierErrorIsSwallowed(t *testing.T) {
	cred := &models.Credential{ID: uuid.New(), ChannelKind: models.ChannelSlack}
	st := &actionStore{creds: map[uuid.UUID]*models.Credential{cred.ID: cred}}
	slack := &fakeNotifier{kind: models.ChannelSlack, err: assert.AnError}
	d := newTestDispatcher(st, nil, slack)

	event := &models.Event{ID: uuid.New()}
	event.Actions = []models.ConditionalAction{messageAction(models.TriggerAlways, cred.ID)}

	d.Dispatch(context.Background(), event, successOutcome(event))
	require.Len(t, slack.sent, 1)
}

func TestRunEventChains(t *testing.T) {
	chain := &fakeChainer{}
	d := newTestDispatcher(nil, nil)
	d.SetChainer(chain)

	target := uuid.New()
	event := &models.Event{ID: uuid.New()}
	event.Actions = []models.ConditionalAction{{
		ID:            uuid.New(),
		TriggerClass:  models.TriggerOnSuccess,
		Effect:        models.EffectRunEvent,
		TargetEventID: &target,
	}}

	d.Dispatch(context.Background(), event, successOutcome(event))

	require.Len(t, chain.chained(), 1)
	assert.Equal(t, target, chain.chained()[0])
}

func TestRunEventSkipsSelfReference(t *testing.T) {
	chain := &fakeChainer{}
	d := newTestDispatcher(nil, nil)
	d.SetChainer(chain)

	event := &models.Event{ID: uuid.New()}
	self := event.ID
	event.Actions = []models.ConditionalAction{{
		ID:            uuid.New(),
		TriggerClass:  models.TriggerAlways,
		Effect:        models.EffectRunEvent,
		TargetEventID: &self,
	}}

	d.Dispatch(context.Background(), event, successOutcome(event))
	assert.Empty(t, chain.chained())
}

func TestRunEventMissingTarget(t *testing.T) {
	chain := &fakeChainer{}
	d := newTestDispatcher(nil, nil)
	d.SetChainer(chain)

	event := &models.Event{ID: uuid.New()}
	event.Actions = []models.ConditionalAction{{
		ID:           uuid.New(),
		TriggerClass: models.TriggerAlways,
		Effect:       models.EffectRunEvent,
	}}

	d.Dispatch(context.Background(), event, successOutcome(event))
	assert.Empty(t, chain.chained())
}

func TestRenderContextExposesRunDetails(t *testing.T) {
	cred := &models.Credential{ID: uuid.New(), ChannelKind: models.ChannelSlack}
	st := &actionStore{creds: map[uuid.UUID]*models.Credential{cred.ID: cred}}
	slack := &fakeNotifier{kind: models.ChannelSlack}
	d := newTestDispatcher(st, nil, slack)

	event := &models.Event{ID: uuid.New(), Name: "sync"}
	action := messageAction(models.TriggerOnFailure, cred.ID)
	action.Message = "{{eventName}} failed: {{error}} after {{duration}}ms"
	event.Actions = []models.ConditionalAction{action}

	d.Dispatch(context.Background(), event, failureOutcome(event))

	require.Len(t, slack.sent, 1)
	assert.Equal(t, "sync failed: exit status 1 after 0ms", slack.sent[0].msg.Body)
}

func TestSplitRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, splitRecipients(" a@x.io ,, b@x.io "))
	assert.Nil(t, splitRecipients(""))
}

func boolPtr(b bool) *bool { return &b }
