package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/runner"
	"github.com/cronflow/cronflow/internal/store"
)

// memStore records every write the coordinator makes.
type memStore struct {
	mu     sync.Mutex
	logs   []*models.ExecutionLog
	fields []map[string]any
	vars   map[string]string
}

func newMemStore() *memStore { return &memStore{vars: map[string]string{}} }

func (m *memStore) GetEvent(context.Context, uuid.UUID) (*models.Event, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) UpdateEvent(context.Context, *models.Event) error { return nil }
func (m *memStore) UpdateEventFields(_ context.Context, _ uuid.UUID, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = append(m.fields, fields)
	return nil
}
func (m *memStore) ListActiveEvents(context.Context) ([]models.Event, error) { return nil, nil }
func (m *memStore) CreateLog(_ context.Context, l *models.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}
func (m *memStore) UpdateLog(context.Context, *models.ExecutionLog) error { return nil }
func (m *memStore) GetVariables(context.Context) (map[string]string, error) {
	return m.vars, nil
}
func (m *memStore) SetVariable(context.Context, string, string) error { return nil }
func (m *memStore) DeleteVariable(context.Context, string) error      { return nil }
func (m *memStore) GetCredential(context.Context, uuid.UUID) (*models.Credential, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) logsByStatus(status string) []*models.ExecutionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ExecutionLog
	for _, l := range m.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

type stubLocal struct {
	res *runner.Result
	err error
}

func (s *stubLocal) Run(context.Context, *runner.Request) (*runner.Result, error) {
	return s.res, s.err
}

// stubRemote replays a scripted sequence of results per host.
type stubRemote struct {
	mu      sync.Mutex
	byHost  map[string][]remoteStep
	calls   map[string]int
	elapsed []time.Duration
}

type remoteStep struct {
	res *runner.Result
	err error
}

func newStubRemote() *stubRemote {
	return &stubRemote{byHost: map[string][]remoteStep{}, calls: map[string]int{}}
}

func (s *stubRemote) Run(_ context.Context, target *models.Target, _ *runner.Request) (*runner.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[target.Host]
	s.calls[target.Host] = n + 1
	steps := s.byHost[target.Host]
	if n >= len(steps) {
		return &runner.Result{}, nil
	}
	return steps[n].res, steps[n].err
}

func (s *stubRemote) TestConnection(*models.Target) (bool, string) { return true, "" }

func (s *stubRemote) attempts(host string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[host]
}

type stubHTTP struct{ res *runner.Result }

func (s *stubHTTP) Run(context.Context, *models.Event) *runner.Result { return s.res }

type recordedDispatch struct {
	event   *models.Event
	outcome Outcome
}

type recordingActions struct {
	mu    sync.Mutex
	calls []recordedDispatch
}

func (r *recordingActions) Dispatch(_ context.Context, event *models.Event, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedDispatch{event: event, outcome: outcome})
}

type recordingTimers struct {
	mu        sync.Mutex
	cancelled []uuid.UUID
}

func (r *recordingTimers) Cancel(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
}

func instantPolicies(c *Coordinator) {
	c.stagger = func(int) time.Duration { return 0 }
	c.backoff = func(failureClass, int) time.Duration { return 0 }
}

func testEvent() *models.Event {
	return &models.Event{
		ID:         uuid.New(),
		Name:       "nightly-refresh",
		ScriptType: models.ScriptShell,
		Status:     models.StatusActive,
	}
}

func remoteEvent(hosts ...string) *models.Event {
	e := testEvent()
	e.RunLocation = models.RunRemote
	for _, h := range hosts {
		e.Targets = append(e.Targets, models.Target{ID: uuid.New(), Host: h})
	}
	return e
}

func TestExecuteLocalSuccess(t *testing.T) {
	st := newMemStore()
	actions := &recordingActions{}
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{Stdout: "done"}}, newStubRemote(), &stubHTTP{})
	c.SetActions(actions)
	instantPolicies(c)

	event := testEvent()
	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecSuccess, log.Status)
	assert.True(t, log.Success)
	assert.Equal(t, "done", log.Stdout)
	require.NotNil(t, log.EndedAt)

	require.Len(t, actions.calls, 1)
	assert.True(t, actions.calls[0].outcome.Success)

	// Execution bookkeeping ran, failure counter did not.
	require.Len(t, st.fields, 1)
	assert.Equal(t, 1, st.fields[0]["execution_count"])
	assert.Equal(t, 1, event.ExecutionCount)
	assert.Equal(t, 0, event.FailureCount)
}

func TestExecuteAdoptsExistingLog(t *testing.T) {
	st := newMemStore()
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{}}, newStubRemote(), &stubHTTP{})
	instantPolicies(c)

	existing := &models.ExecutionLog{
		ID:        uuid.New(),
		Status:    models.ExecRunning,
		Source:    models.SourceManual,
		StartedAt: time.Now(),
	}
	log, err := c.Execute(context.Background(), testEvent(), models.SourceManual, existing)
	require.NoError(t, err)

	assert.Same(t, existing, log)
	// No second running record was created.
	assert.Empty(t, st.logsByStatus(models.ExecRunning))
}

func TestExecuteLocalFailureBumpsFailureCount(t *testing.T) {
	st := newMemStore()
	actions := &recordingActions{}
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{Err: "exit status 2", Stderr: "boom"}}, newStubRemote(), &stubHTTP{})
	c.SetActions(actions)
	instantPolicies(c)

	event := testEvent()
	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecFailure, log.Status)
	assert.Contains(t, log.Error, "exit status 2")
	assert.Contains(t, log.Error, "boom")
	assert.Equal(t, 1, event.FailureCount)

	require.Len(t, actions.calls, 1)
	assert.False(t, actions.calls[0].outcome.Success)
}

func TestExecuteTimeoutStatus(t *testing.T) {
	st := newMemStore()
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{TimedOut: true, Err: "execution timed out"}}, newStubRemote(), &stubHTTP{})
	instantPolicies(c)

	event := testEvent()
	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecTimeout, log.Status)
	assert.False(t, log.Success)
	assert.Equal(t, 1, event.FailureCount)
}

func TestExecuteRemoteNoTargets(t *testing.T) {
	st := newMemStore()
	c := NewCoordinator(st, &stubLocal{}, newStubRemote(), &stubHTTP{})
	instantPolicies(c)

	event := remoteEvent()
	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecFailure, log.Status)
	assert.Contains(t, log.Error, "no targets")
}

func TestSingleTargetRetriesScriptFailure(t *testing.T) {
	st := newMemStore()
	remote := newStubRemote()
	remote.byHost["db1"] = []remoteStep{
		{res: &runner.Result{Err: "exit status 1"}},
		{res: &runner.Result{Err: "exit status 1"}},
		{res: &runner.Result{Stdout: "recovered"}},
	}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	instantPolicies(c)

	event := remoteEvent("db1")
	event.RetryCount = 2

	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecSuccess, log.Status)
	assert.Equal(t, 3, remote.attempts("db1"))
}

func TestSingleTargetDefaultIsOneAttempt(t *testing.T) {
	st := newMemStore()
	remote := newStubRemote()
	remote.byHost["db1"] = []remoteStep{
		{res: &runner.Result{Err: "exit status 1"}},
		{res: &runner.Result{Stdout: "would have recovered"}},
	}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	instantPolicies(c)

	event := remoteEvent("db1")

	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecFailure, log.Status)
	assert.Equal(t, 1, remote.attempts("db1"))
}

func TestSingleTargetNoRetryAfterTimeout(t *testing.T) {
	st := newMemStore()
	remote := newStubRemote()
	remote.byHost["db1"] = []remoteStep{
		{res: &runner.Result{TimedOut: true, Err: "execution timed out"}},
		{res: &runner.Result{Stdout: "too late"}},
	}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	instantPolicies(c)

	event := remoteEvent("db1")
	event.RetryCount = 4

	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecTimeout, log.Status)
	assert.Equal(t, 1, remote.attempts("db1"))
}

func TestSingleTargetConnectErrorsExhaustAttempts(t *testing.T) {
	st := newMemStore()
	remote := newStubRemote()
	remote.byHost["db1"] = []remoteStep{
		{err: errors.New("target db1 unreachable: dial tcp: i/o timeout")},
		{err: errors.New("target db1 unreachable: dial tcp: i/o timeout")},
	}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	instantPolicies(c)

	event := remoteEvent("db1")
	event.RetryCount = 1

	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecFailure, log.Status)
	assert.Contains(t, log.Error, "unreachable")
	assert.Equal(t, 2, remote.attempts("db1"))
}

func TestMultiTargetAllSucceed(t *testing.T) {
	st := newMemStore()
	remote := newStubRemote()
	remote.byHost["a"] = []remoteStep{{res: &runner.Result{Stdout: "ok-a"}}}
	remote.byHost["b"] = []remoteStep{{res: &runner.Result{Stdout: "ok-b"}}}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	instantPolicies(c)

	log, err := c.Execute(context.Background(), remoteEvent("a", "b"), models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecSuccess, log.Status)
	assert.Contains(t, log.Stdout, "[a]")
	assert.Contains(t, log.Stdout, "ok-a")
	assert.Contains(t, log.Stdout, "[b]")
	assert.Contains(t, log.Stdout, "ok-b")
	assert.Empty(t, log.Error)
}

func TestMultiTargetAllFail(t *testing.T) {
	st := newMemStore()
	remote := newStubRemote()
	fail := remoteStep{res: &runner.Result{Err: "exit status 1"}}
	remote.byHost["a"] = []remoteStep{fail, fail, fail}
	remote.byHost["b"] = []remoteStep{fail, fail, fail}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	instantPolicies(c)

	event := remoteEvent("a", "b")
	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecFailure, log.Status)
	assert.Equal(t, 1, event.FailureCount)
	// Multi-target runs get a fixed attempt budget of three per target.
	assert.Equal(t, 3, remote.attempts("a"))
	assert.Equal(t, 3, remote.attempts("b"))
}

func TestMultiTargetPartialIsFailure(t *testing.T) {
	st := newMemStore()
	actions := &recordingActions{}
	remote := newStubRemote()
	fail := remoteStep{res: &runner.Result{Err: "exit status 1", Stderr: "disk full"}}
	remote.byHost["a"] = []remoteStep{{res: &runner.Result{Stdout: "ok"}}}
	remote.byHost["b"] = []remoteStep{fail, fail, fail}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	c.SetActions(actions)
	instantPolicies(c)

	event := remoteEvent("a", "b")
	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecPartial, log.Status)
	assert.False(t, log.Success)
	assert.Contains(t, log.Error, "1 of 2 targets failed")
	assert.Contains(t, log.Error, "[b]")
	assert.Equal(t, 1, event.FailureCount)

	// Partial feeds the failure action class.
	require.Len(t, actions.calls, 1)
	assert.False(t, actions.calls[0].outcome.Success)
}

func TestMultiTargetConditionFromFirstSuccess(t *testing.T) {
	st := newMemStore()
	actions := &recordingActions{}
	remote := newStubRemote()
	yes := true
	remote.byHost["a"] = []remoteStep{{res: &runner.Result{Condition: &yes}}}
	remote.byHost["b"] = []remoteStep{{res: &runner.Result{}}}
	c := NewCoordinator(st, &stubLocal{}, remote, &stubHTTP{})
	c.SetActions(actions)
	instantPolicies(c)

	_, err := c.Execute(context.Background(), remoteEvent("a", "b"), models.SourceScheduled, nil)
	require.NoError(t, err)

	require.Len(t, actions.calls, 1)
	require.NotNil(t, actions.calls[0].outcome.Condition)
	assert.True(t, *actions.calls[0].outcome.Condition)
}

func TestAutoPauseAtMaxFailures(t *testing.T) {
	st := newMemStore()
	timers := &recordingTimers{}
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{Err: "exit status 1"}}, newStubRemote(), &stubHTTP{})
	c.SetTimerControl(timers)
	instantPolicies(c)

	event := testEvent()
	event.MaxFailures = 2
	event.FailureCount = 1

	_, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPaused, event.Status)
	require.Len(t, timers.cancelled, 1)
	assert.Equal(t, event.ID, timers.cancelled[0])

	notices := st.logsByStatus(models.ExecPaused)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Error, "max_failures=2")
}

func TestNoPauseBelowMaxFailures(t *testing.T) {
	st := newMemStore()
	timers := &recordingTimers{}
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{Err: "exit status 1"}}, newStubRemote(), &stubHTTP{})
	c.SetTimerControl(timers)
	instantPolicies(c)

	event := testEvent()
	event.MaxFailures = 3

	_, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, event.Status)
	assert.Empty(t, timers.cancelled)
	assert.Empty(t, st.logsByStatus(models.ExecPaused))
}

func TestPauseOnMaxExecutions(t *testing.T) {
	st := newMemStore()
	timers := &recordingTimers{}
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{}}, newStubRemote(), &stubHTTP{})
	c.SetTimerControl(timers)
	instantPolicies(c)

	event := testEvent()
	event.MaxExecutions = 3
	event.ExecutionCount = 2

	_, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, event.ExecutionCount)
	assert.Equal(t, models.StatusPaused, event.Status)
	require.Len(t, timers.cancelled, 1)

	notices := st.logsByStatus(models.ExecPaused)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Error, "max executions")
}

func TestExecutionCountBumpsOnFailureToo(t *testing.T) {
	st := newMemStore()
	c := NewCoordinator(st, &stubLocal{res: &runner.Result{Err: "exit status 1"}}, newStubRemote(), &stubHTTP{})
	instantPolicies(c)

	event := testEvent()
	_, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, event.ExecutionCount)
	assert.Equal(t, 1, event.FailureCount)
}

func TestHTTPPathUsesExecutor(t *testing.T) {
	st := newMemStore()
	body := `{"status":200}`
	c := NewCoordinator(st, &stubLocal{}, newStubRemote(), &stubHTTP{res: &runner.Result{Stdout: body}})
	instantPolicies(c)

	event := testEvent()
	event.ScriptType = models.ScriptHTTP

	log, err := c.Execute(context.Background(), event, models.SourceScheduled, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecSuccess, log.Status)
	assert.Equal(t, body, log.Stdout)
}

func TestBuildRequestNormalizesLegacyVariables(t *testing.T) {
	st := newMemStore()
	st.vars = map[string]string{
		"json":   `{"a":1}`,
		"legacy": "plain text",
	}
	c := NewCoordinator(st, &stubLocal{}, newStubRemote(), &stubHTTP{})

	req, err := c.buildRequest(context.Background(), testEvent())
	require.NoError(t, err)

	assert.JSONEq(t, `{"a":1}`, string(req.Variables["json"]))
	assert.JSONEq(t, `"plain text"`, string(req.Variables["legacy"]))
}

func TestBuildRequestRejectsMalformedEnv(t *testing.T) {
	st := newMemStore()
	c := NewCoordinator(st, &stubLocal{}, newStubRemote(), &stubHTTP{})

	event := testEvent()
	event.EnvVars = []byte(`["not","an","object"]`)

	_, err := c.buildRequest(context.Background(), event)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "env_vars"))
}

func TestDefaultPolicies(t *testing.T) {
	assert.Equal(t, 750*time.Millisecond, defaultStagger(0))
	assert.Equal(t, 1250*time.Millisecond, defaultStagger(2))
	assert.Equal(t, 10*time.Second, defaultBackoff(classConnect, 2))
	assert.Equal(t, 2*time.Second, defaultBackoff(classScript, 2))
}
