package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/cronflow/cronflow/internal/dispatch"
	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/schedule"
	"github.com/cronflow/cronflow/internal/store"
)

// ErrAlreadyRunning is returned when a manual run is requested while an
// execution of the same event is still in flight.
var ErrAlreadyRunning = errors.New("event is already executing")

// initCooldown is the minimum gap between two initialization passes.
const initCooldown = 10 * time.Second

// Scheduler owns the in-memory timer table. It converts each active
// event's recurrence rule into a live gocron job, re-arms after every run,
// and enforces per-event single-flight execution. All mutable state lives
// on the instance, guarded by one mutex.
type Scheduler struct {
	store store.Store
	coord *dispatch.Coordinator
	cron  *gocron.Scheduler

	mu        sync.Mutex
	executing map[uuid.UUID]struct{}  // single-flight lock table
	lastFire  map[uuid.UUID]time.Time // last accepted trigger per event
	pending   map[uuid.UUID]*time.Timer

	initMu       sync.Mutex
	initializing bool
	lastInit     time.Time
}

func New(st store.Store, coord *dispatch.Coordinator) *Scheduler {
	s := &Scheduler{
		store:     st,
		coord:     coord,
		cron:      gocron.NewScheduler(time.Local),
		executing: make(map[uuid.UUID]struct{}),
		lastFire:  make(map[uuid.UUID]time.Time),
		pending:   make(map[uuid.UUID]*time.Timer),
	}
	s.cron.StartAsync()
	return s
}

// Initialize cancels every existing timer, clears the lock and last-fire
// tables, and schedules all active events from the store. It is idempotent,
// tolerates concurrent calls, and refuses to re-run within the cooldown
// window of a prior pass. Per-event scheduling errors are logged and leave
// that event unscheduled.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	if s.initializing {
		s.initMu.Unlock()
		slog.Info("Scheduler initialization already in progress, skipping")
		return nil
	}
	if time.Since(s.lastInit) < initCooldown {
		s.initMu.Unlock()
		slog.Info("Scheduler initialized recently, skipping")
		return nil
	}
	s.initializing = true
	s.initMu.Unlock()

	defer func() {
		s.initMu.Lock()
		s.initializing = false
		s.lastInit = time.Now()
		s.initMu.Unlock()
	}()

	s.cron.Clear()
	s.mu.Lock()
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	s.executing = make(map[uuid.UUID]struct{})
	s.lastFire = make(map[uuid.UUID]time.Time)
	s.mu.Unlock()

	events, err := s.store.ListActiveEvents(ctx)
	if err != nil {
		return err
	}

	scheduled := 0
	for i := range events {
		if err := s.Schedule(&events[i]); err != nil {
			slog.Error("Failed to schedule event", "event", events[i].ID, "name", events[i].Name, "error", err)
			continue
		}
		scheduled++
	}
	slog.Info("Scheduler initialized", "active_events", len(events), "scheduled", scheduled)
	return nil
}

// Schedule cancels any prior timer for the event and arms a new one when
// the event is active. The event is re-read from the store first so a stale
// caller copy cannot resurrect a deactivated event.
func (s *Scheduler) Schedule(event *models.Event) error {
	s.Cancel(event.ID)

	if !event.IsActive() {
		return nil
	}

	fresh, err := s.store.GetEvent(context.Background(), event.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !fresh.IsActive() {
		return nil
	}

	if fresh.StartAt != nil && fresh.StartAt.After(time.Now()) {
		s.armPendingStart(fresh)
		return nil
	}
	return s.armRecurring(fresh)
}

// armPendingStart arms a one-shot timer that executes the event once at its
// start time and then arms the recurring timer.
func (s *Scheduler) armPendingStart(event *models.Event) {
	id := event.ID
	delay := time.Until(*event.StartAt)
	slog.Info("Event scheduled with future start", "event", id, "start_at", event.StartAt)

	s.mu.Lock()
	s.pending[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()

		s.fire(id)

		fresh, err := s.store.GetEvent(context.Background(), id)
		if err != nil || !fresh.IsActive() {
			return
		}
		if err := s.armRecurring(fresh); err != nil {
			slog.Error("Failed to arm recurring timer after start", "event", id, "error", err)
		}
	})
	s.mu.Unlock()
}

func (s *Scheduler) armRecurring(event *models.Event) error {
	rule, err := schedule.Build(event)
	if err != nil {
		return err
	}

	id := event.ID
	run := func() { s.fire(id) }

	var job *gocron.Job
	if rule.WithSeconds {
		job, err = s.cron.CronWithSeconds(rule.Expr).Tag(id.String()).Do(run)
	} else {
		job, err = s.cron.Cron(rule.Expr).Tag(id.String()).Do(run)
	}
	if err != nil {
		return err
	}

	s.persistNextRun(id, job.NextRun())
	slog.Info("Event timer armed", "event", id, "name", event.Name, "expr", rule.Expr)
	return nil
}

// fire is the timer callback body shared by recurring and one-shot timers.
func (s *Scheduler) fire(id uuid.UUID) {
	if !s.tryLock(id) {
		slog.Info("Skipping fire, event already executing", "event", id)
		return
	}
	defer s.unlock(id)

	ctx := context.Background()

	// Re-fetch: the store is the source of truth and the in-memory timer
	// may be acting on stale data.
	event, err := s.store.GetEvent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("Event gone, cancelling timer", "event", id)
		s.cancelTimers(id)
		return
	}
	if err != nil {
		slog.Error("Failed to load event for fire", "event", id, "error", err)
		return
	}
	if !event.IsActive() {
		slog.Info("Event no longer active, cancelling timer", "event", id)
		s.cancelTimers(id)
		return
	}

	// Debounce near-duplicate timer fires.
	threshold := schedule.MinInterval(event)
	s.mu.Lock()
	last, seen := s.lastFire[id]
	if seen && time.Since(last) < threshold {
		s.mu.Unlock()
		slog.Debug("Suppressing duplicate timer fire", "event", id, "since_last", time.Since(last))
		return
	}
	s.lastFire[id] = time.Now()
	s.mu.Unlock()

	if _, err := s.coord.Execute(ctx, event, models.SourceScheduled, nil); err != nil {
		slog.Error("Dispatch failed", "event", id, "error", err)
	}

	s.refreshNextRun(id)
}

// RunManual triggers one immediate execution, respecting single-flight.
// The running record is created synchronously so callers can hand its id
// back; the execution itself is asynchronous.
func (s *Scheduler) RunManual(ctx context.Context, id uuid.UUID) (*models.ExecutionLog, error) {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.tryLock(id) {
		return nil, ErrAlreadyRunning
	}

	log := &models.ExecutionLog{
		EventID:   id,
		Status:    models.ExecRunning,
		Source:    models.SourceManual,
		StartedAt: time.Now(),
	}
	if err := s.store.CreateLog(ctx, log); err != nil {
		s.unlock(id)
		return nil, err
	}

	go func() {
		defer s.unlock(id)
		if _, err := s.coord.Execute(context.Background(), event, models.SourceManual, log); err != nil {
			slog.Error("Manual dispatch failed", "event", id, "error", err)
		}
	}()

	return log, nil
}

// RunChained starts an independent execution for a chained event. Errors
// never propagate back to the triggering event.
func (s *Scheduler) RunChained(id uuid.UUID) {
	go func() {
		if !s.tryLock(id) {
			slog.Info("Skipping chained run, event already executing", "event", id)
			return
		}
		defer s.unlock(id)

		ctx := context.Background()
		event, err := s.store.GetEvent(ctx, id)
		if err != nil {
			slog.Error("Chained event not loadable", "event", id, "error", err)
			return
		}
		if event.Status == models.StatusDraft {
			slog.Info("Skipping chained run of draft event", "event", id)
			return
		}

		if _, err := s.coord.Execute(ctx, event, models.SourceChained, nil); err != nil {
			slog.Error("Chained dispatch failed", "event", id, "error", err)
		}
	}()
}

// Update re-reads the event and re-arms or cancels its timer.
func (s *Scheduler) Update(id uuid.UUID) {
	event, err := s.store.GetEvent(context.Background(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.Cancel(id)
		return
	}
	if err != nil {
		slog.Error("Failed to load event for update", "event", id, "error", err)
		return
	}
	if err := s.Schedule(event); err != nil {
		slog.Error("Failed to reschedule event", "event", id, "error", err)
	}
}

// Delete cancels the event's timer. Call before removing the record.
func (s *Scheduler) Delete(id uuid.UUID) {
	s.Cancel(id)
}

// Cancel removes any pending-start and recurring timers for the event.
// It is synchronous for future fires but does not interrupt an in-flight
// execution, which always completes and releases its lock entry.
func (s *Scheduler) Cancel(id uuid.UUID) {
	s.cancelTimers(id)
	s.persistNextRun(id, time.Time{})
}

func (s *Scheduler) cancelTimers(id uuid.UUID) {
	s.mu.Lock()
	if timer, ok := s.pending[id]; ok {
		timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	_ = s.cron.RemoveByTag(id.String())
}

// Stop shuts the scheduler down. In-flight executions complete on their
// own goroutines.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()
	slog.Info("Scheduler stopped")
}

// Executing reports whether the event currently holds the single-flight
// lock.
func (s *Scheduler) Executing(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.executing[id]
	return ok
}

func (s *Scheduler) tryLock(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.executing[id]; busy {
		return false
	}
	s.executing[id] = struct{}{}
	return true
}

func (s *Scheduler) unlock(id uuid.UUID) {
	s.mu.Lock()
	delete(s.executing, id)
	s.mu.Unlock()
}

// refreshNextRun recomputes the armed job's next invocation time for
// observability.
func (s *Scheduler) refreshNextRun(id uuid.UUID) {
	jobs, err := s.cron.FindJobsByTag(id.String())
	if err != nil || len(jobs) == 0 {
		return
	}
	s.persistNextRun(id, jobs[0].NextRun())
}

func (s *Scheduler) persistNextRun(id uuid.UUID, next time.Time) {
	var value any
	if !next.IsZero() {
		value = next
	}
	if err := s.store.UpdateEventFields(context.Background(), id, map[string]any{"next_run_at": value}); err != nil {
		slog.Debug("Failed to persist next run time", "event", id, "error", err)
	}
}
