package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cronflow/cronflow/internal/dispatch"
	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/notify"
	"github.com/cronflow/cronflow/internal/render"
	"github.com/cronflow/cronflow/internal/store"
	"github.com/google/uuid"
)

// Chainer starts an independent, non-blocking execution of another event.
// The scheduler implements it so chained runs respect the single-flight
// guarantee.
type Chainer interface {
	RunChained(eventID uuid.UUID)
}

// Dispatcher evaluates an event's conditional actions against an outcome
// and performs them. Downstream errors (notifier, renderer, chained event)
// are logged and swallowed; they never touch the triggering event's own
// execution record.
type Dispatcher struct {
	store     store.Store
	notifiers *notify.Set
	renderer  render.Renderer

	// defaultEmail is the system-wide default email channel, usable when a
	// send-message action has no credential attached. Nil when disabled.
	defaultEmail *models.Credential

	chain Chainer
}

func NewDispatcher(st store.Store, notifiers *notify.Set, renderer render.Renderer, defaultEmail *models.Credential) *Dispatcher {
	return &Dispatcher{
		store:        st,
		notifiers:    notifiers,
		renderer:     renderer,
		defaultEmail: defaultEmail,
	}
}

// SetChainer wires the chained-execution entry point. Set once at boot.
func (d *Dispatcher) SetChainer(c Chainer) { d.chain = c }

// Dispatch fires the action classes matching the outcome: on_success or
// on_failure by status, always unconditionally, and on_condition only when
// the run produced a true boolean condition.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.Event, outcome dispatch.Outcome) {
	if outcome.Success {
		d.fire(ctx, event, outcome, models.TriggerOnSuccess)
	} else {
		d.fire(ctx, event, outcome, models.TriggerOnFailure)
	}

	d.fire(ctx, event, outcome, models.TriggerAlways)

	if outcome.Condition != nil && *outcome.Condition {
		d.fire(ctx, event, outcome, models.TriggerOnCondition)
	}
}

func (d *Dispatcher) fire(ctx context.Context, event *models.Event, outcome dispatch.Outcome, class string) {
	for i := range event.Actions {
		action := &event.Actions[i]
		if action.TriggerClass != class {
			continue
		}
		switch action.Effect {
		case models.EffectSendMessage:
			if err := d.sendMessage(ctx, event, action, outcome); err != nil {
				slog.Error("Conditional action message failed",
					"event", event.ID, "action", action.ID, "channel", action.ChannelKind, "error", err)
			}
		case models.EffectRunEvent:
			d.runEvent(ctx, event, action)
		default:
			slog.Warn("Unknown action effect", "event", event.ID, "action", action.ID, "effect", action.Effect)
		}
	}
}

func (d *Dispatcher) sendMessage(ctx context.Context, event *models.Event, action *models.ConditionalAction, outcome dispatch.Outcome) error {
	cred, err := d.resolveCredential(ctx, action)
	if err != nil {
		return err
	}

	notifier, err := d.notifiers.ForKind(cred.ChannelKind)
	if err != nil {
		return err
	}

	renderCtx := d.renderContext(event, outcome)
	msg := notify.Message{
		Recipients: splitRecipients(action.Recipients),
		Subject:    d.renderer.Render(action.Subject, renderCtx),
		Body:       d.renderer.Render(action.Message, renderCtx),
	}
	return notifier.Send(ctx, cred, msg)
}

// resolveCredential prefers the action's own credential and falls back to
// the system default email channel when that is enabled.
func (d *Dispatcher) resolveCredential(ctx context.Context, action *models.ConditionalAction) (*models.Credential, error) {
	if action.CredentialID != nil {
		return d.store.GetCredential(ctx, *action.CredentialID)
	}
	if action.ChannelKind == models.ChannelEmail && d.defaultEmail != nil {
		return d.defaultEmail, nil
	}
	return nil, store.ErrNotFound
}

func (d *Dispatcher) runEvent(ctx context.Context, event *models.Event, action *models.ConditionalAction) {
	if action.TargetEventID == nil {
		slog.Warn("Run-event action has no target", "event", event.ID, "action", action.ID)
		return
	}
	// Self-reference is rejected at configuration time; guard here anyway
	// since the table can be edited out of band.
	if *action.TargetEventID == event.ID {
		slog.Warn("Run-event action targets its own event, skipping", "event", event.ID, "action", action.ID)
		return
	}
	if d.chain == nil {
		slog.Warn("No chainer wired, skipping chained event", "event", event.ID)
		return
	}
	d.chain.RunChained(*action.TargetEventID)
}

// renderContext builds the template context from the event's identity and
// the finished execution record.
func (d *Dispatcher) renderContext(event *models.Event, outcome dispatch.Outcome) map[string]any {
	ctx := map[string]any{
		"eventId":   event.ID.String(),
		"eventName": event.Name,
		"status":    outcome.Status,
		"success":   outcome.Success,
	}

	if log := outcome.Log; log != nil {
		ctx["duration"] = log.DurationMs
		ctx["timestamp"] = log.StartedAt.Format(time.RFC3339)
		ctx["error"] = log.Error
		ctx["stdout"] = log.Stdout

		if len(log.Output) > 0 {
			var decoded any
			if err := json.Unmarshal(log.Output, &decoded); err == nil {
				ctx["output"] = decoded
			} else {
				ctx["output"] = string(log.Output)
			}
		}
	}
	return ctx
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
