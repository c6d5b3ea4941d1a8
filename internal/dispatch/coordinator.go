package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/runner"
	"github.com/cronflow/cronflow/internal/store"
	"github.com/google/uuid"
)

// ScriptRunner runs one local sandbox invocation.
type ScriptRunner interface {
	Run(ctx context.Context, req *runner.Request) (*runner.Result, error)
}

// RemoteScriptRunner runs one sandbox invocation on a target host.
// Connectivity problems come back as errors; script failures are in the
// Result.
type RemoteScriptRunner interface {
	Run(ctx context.Context, target *models.Target, req *runner.Request) (*runner.Result, error)
	TestConnection(target *models.Target) (bool, string)
}

// HTTPExecutor runs an event's HTTP request definition.
type HTTPExecutor interface {
	Run(ctx context.Context, event *models.Event) *runner.Result
}

// Outcome is what the conditional action layer receives after a dispatch.
type Outcome struct {
	Status    string
	Success   bool
	Condition *bool
	Log       *models.ExecutionLog
}

// ActionDispatcher fires the conditional actions matching an outcome.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, event *models.Event, outcome Outcome)
}

// TimerControl cancels a scheduled event's live timer, used when an event
// auto-pauses on a limit breach.
type TimerControl interface {
	Cancel(eventID uuid.UUID)
}

// LogObserver receives every persisted execution record, running and
// terminal alike. Implementations must not block.
type LogObserver interface {
	Notify(log *models.ExecutionLog)
}

// Coordinator executes an event across zero, one or many targets,
// aggregates the results into a single outcome, persists the execution
// record and drives counters, auto-pause and conditional actions.
type Coordinator struct {
	store  store.Store
	local  ScriptRunner
	remote RemoteScriptRunner
	httpx  HTTPExecutor

	actions  ActionDispatcher
	timers   TimerControl
	observer LogObserver

	// Fan-out policies, overridable in tests.
	stagger func(index int) time.Duration
	backoff func(class failureClass, attempt int) time.Duration
}

func NewCoordinator(st store.Store, local ScriptRunner, remote RemoteScriptRunner, httpx HTTPExecutor) *Coordinator {
	return &Coordinator{
		store:   st,
		local:   local,
		remote:  remote,
		httpx:   httpx,
		stagger: defaultStagger,
		backoff: defaultBackoff,
	}
}

// SetActions wires the conditional action layer. Set once at boot.
func (c *Coordinator) SetActions(a ActionDispatcher) { c.actions = a }

// SetTimerControl wires the scheduler's cancel hook. Set once at boot.
func (c *Coordinator) SetTimerControl(t TimerControl) { c.timers = t }

// SetObserver wires the live record feed. Set once at boot.
func (c *Coordinator) SetObserver(o LogObserver) { c.observer = o }

func (c *Coordinator) observe(log *models.ExecutionLog) {
	if c.observer != nil {
		c.observer.Notify(log)
	}
}

// Execute runs one dispatch for the event. When the caller already created
// a running execution record it is adopted and finalized; otherwise a new
// one is created. Exactly one record is written per dispatch.
func (c *Coordinator) Execute(ctx context.Context, event *models.Event, source string, existing *models.ExecutionLog) (*models.ExecutionLog, error) {
	log := existing
	if log == nil {
		log = &models.ExecutionLog{
			EventID:   event.ID,
			Status:    models.ExecRunning,
			Source:    source,
			StartedAt: time.Now(),
		}
		if err := c.store.CreateLog(ctx, log); err != nil {
			return nil, err
		}
		c.observe(log)
	}

	res, status := c.run(ctx, event)

	c.finalize(ctx, log, res, status)

	outcome := Outcome{
		Status:    status,
		Success:   status == models.ExecSuccess,
		Condition: res.Condition,
		Log:       log,
	}

	c.updateCounters(ctx, event, outcome)

	if c.actions != nil {
		c.actions.Dispatch(ctx, event, outcome)
	}

	c.recordExecution(ctx, event)

	return log, nil
}

// run picks the execution path by script type, location and target count.
func (c *Coordinator) run(ctx context.Context, event *models.Event) (*runner.Result, string) {
	if event.ScriptType == models.ScriptHTTP {
		res := c.httpx.Run(ctx, event)
		return res, classify(res)
	}

	req, err := c.buildRequest(ctx, event)
	if err != nil {
		return &runner.Result{Err: err.Error()}, models.ExecFailure
	}

	if event.RunLocation != models.RunRemote {
		res, err := c.local.Run(ctx, req)
		if err != nil {
			return &runner.Result{Err: err.Error()}, models.ExecFailure
		}
		return res, classify(res)
	}

	switch len(event.Targets) {
	case 0:
		return &runner.Result{Err: "event has no targets"}, models.ExecFailure
	case 1:
		res := c.runTarget(ctx, event, &event.Targets[0], req)
		return res, classify(res)
	default:
		return c.runMulti(ctx, event, req)
	}
}

// runTarget runs one target with bounded retries and failure-class
// dependent backoff.
func (c *Coordinator) runTarget(ctx context.Context, event *models.Event, target *models.Target, req *runner.Request) *runner.Result {
	attempts := maxAttempts(event)

	var last *runner.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := c.remote.Run(ctx, target, req)
		if err != nil {
			last = &runner.Result{Err: err.Error()}
			if attempt < attempts {
				c.sleep(ctx, c.backoff(classConnect, attempt))
				continue
			}
			break
		}
		if !res.Failed() || res.TimedOut {
			// A timeout already consumed the full window; retrying
			// would only double the damage.
			return res
		}
		last = res
		if attempt < attempts {
			c.sleep(ctx, c.backoff(classScript, attempt))
		}
	}
	return last
}

// runMulti fans out over all targets concurrently with staggered starts,
// awaits every target, and aggregates under the strict policy: overall
// success requires every target to succeed, anything in between is partial
// and counts as a failure.
func (c *Coordinator) runMulti(ctx context.Context, event *models.Event, req *runner.Request) (*runner.Result, string) {
	results := fanOut(ctx, event, req, c)

	succeeded := 0
	agg := &runner.Result{}
	for i := range results {
		res := results[i]
		host := event.Targets[i].Host
		if res.Stdout != "" {
			agg.Stdout += fmt.Sprintf("[%s]\n%s\n", host, res.Stdout)
		}
		if res.Stderr != "" {
			agg.Stderr += fmt.Sprintf("[%s]\n%s\n", host, res.Stderr)
		}
		if !res.Failed() {
			succeeded++
			// Output and condition come from the first succeeding
			// target that produced a value.
			if agg.Output == nil && res.Output != nil {
				agg.Output = res.Output
			}
			if agg.Condition == nil && res.Condition != nil {
				agg.Condition = res.Condition
			}
		} else if agg.Err == "" {
			agg.Err = fmt.Sprintf("[%s] %s", host, res.Err)
		}
	}

	total := len(results)
	switch {
	case succeeded == total:
		agg.Err = ""
		return agg, models.ExecSuccess
	case succeeded == 0:
		return agg, models.ExecFailure
	default:
		agg.Err = fmt.Sprintf("%d of %d targets failed: %s", total-succeeded, total, agg.Err)
		return agg, models.ExecPartial
	}
}

// finalize writes the record's terminal state exactly once.
func (c *Coordinator) finalize(ctx context.Context, log *models.ExecutionLog, res *runner.Result, status string) {
	now := time.Now()
	log.Status = status
	log.Success = status == models.ExecSuccess
	log.EndedAt = &now
	log.DurationMs = now.Sub(log.StartedAt).Milliseconds()
	log.Stdout = res.Stdout
	log.Error = joinNonEmpty(res.Err, res.Stderr)
	if res.Output != nil {
		log.Output = []byte(res.Output)
	}

	if err := c.store.UpdateLog(ctx, log); err != nil {
		slog.Error("Failed to finalize execution record", "event", log.EventID, "error", err)
	}
	c.observe(log)
}

// updateCounters bumps the failure counter on any non-success and
// auto-pauses the event when the max-failures limit is reached.
func (c *Coordinator) updateCounters(ctx context.Context, event *models.Event, outcome Outcome) {
	if outcome.Success {
		return
	}

	event.FailureCount++
	fields := map[string]any{"failure_count": event.FailureCount}

	if event.MaxFailures > 0 && event.FailureCount >= event.MaxFailures {
		event.Status = models.StatusPaused
		fields["status"] = models.StatusPaused
		c.pauseNotice(ctx, event, fmt.Sprintf("event paused after %d failures (max_failures=%d)", event.FailureCount, event.MaxFailures))
	}

	if err := c.store.UpdateEventFields(ctx, event.ID, fields); err != nil {
		slog.Error("Failed to update failure counter", "event", event.ID, "error", err)
	}
}

// recordExecution is the execution-count bookkeeping step, run after every
// dispatch regardless of outcome.
func (c *Coordinator) recordExecution(ctx context.Context, event *models.Event) {
	event.ExecutionCount++
	fields := map[string]any{"execution_count": event.ExecutionCount}

	if event.MaxExecutions > 0 && event.ExecutionCount >= event.MaxExecutions {
		event.Status = models.StatusPaused
		fields["status"] = models.StatusPaused
		c.pauseNotice(ctx, event, fmt.Sprintf("event paused after reaching max executions (%d)", event.MaxExecutions))
	}

	if err := c.store.UpdateEventFields(ctx, event.ID, fields); err != nil {
		slog.Error("Failed to update execution counter", "event", event.ID, "error", err)
	}
}

// pauseNotice cancels the event's timer and writes the explanatory record
// that always accompanies an auto-pause.
func (c *Coordinator) pauseNotice(ctx context.Context, event *models.Event, reason string) {
	if c.timers != nil {
		c.timers.Cancel(event.ID)
	}

	now := time.Now()
	notice := &models.ExecutionLog{
		EventID:   event.ID,
		Status:    models.ExecPaused,
		Source:    models.SourceScheduled,
		StartedAt: now,
		EndedAt:   &now,
		Error:     reason,
	}
	if err := c.store.CreateLog(ctx, notice); err != nil {
		slog.Error("Failed to write pause notice", "event", event.ID, "error", err)
	}
	c.observe(notice)
	slog.Info("Event auto-paused", "event", event.ID, "reason", reason)
}

// buildRequest assembles the sandbox request: input, static metadata, the
// current variable snapshot and the event's environment.
func (c *Coordinator) buildRequest(ctx context.Context, event *models.Event) (*runner.Request, error) {
	vars, err := c.store.GetVariables(ctx)
	if err != nil {
		return nil, fmt.Errorf("load variables: %w", err)
	}
	snapshot := make(map[string]json.RawMessage, len(vars))
	for k, v := range vars {
		if json.Valid([]byte(v)) {
			snapshot[k] = json.RawMessage(v)
		} else {
			// Legacy plain-string values.
			enc, _ := json.Marshal(v)
			snapshot[k] = enc
		}
	}

	env := map[string]string{}
	if len(event.EnvVars) > 0 {
		if err := json.Unmarshal(event.EnvVars, &env); err != nil {
			return nil, fmt.Errorf("event env_vars is not a JSON object: %w", err)
		}
	}

	return &runner.Request{
		Event: event,
		Input: json.RawMessage(event.Input),
		Metadata: map[string]any{
			"id":          event.ID,
			"name":        event.Name,
			"description": event.Description,
			"scriptType":  event.ScriptType,
			"triggerType": event.TriggerType,
			"status":      event.Status,
		},
		Variables: snapshot,
		Env:       env,
		Timeout:   event.Timeout(),
	}, nil
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// classify maps a single result to a terminal record status.
func classify(res *runner.Result) string {
	switch {
	case res.TimedOut:
		return models.ExecTimeout
	case res.Failed():
		return models.ExecFailure
	default:
		return models.ExecSuccess
	}
}

// maxAttempts is the per-target attempt budget: one run plus the event's
// configured retries for a single target, a fixed budget of three for
// multi-target fan-out.
func maxAttempts(event *models.Event) int {
	if len(event.Targets) > 1 {
		return 3
	}
	if event.RetryCount > 0 {
		return 1 + event.RetryCount
	}
	return 1
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p
	}
	return out
}
