package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cronflow/cronflow/internal/models"
)

// Rule is the normalized timer specification derived from an event's
// schedule configuration. Expr is a cron expression; WithSeconds marks a
// six-field expression carrying a seconds column.
type Rule struct {
	Expr        string
	WithSeconds bool
}

// Build translates an event's schedule configuration into a Rule. A raw
// cron expression, when present, wins over the interval fields and is used
// verbatim. Interval schedules produce fixed-phase patterns aligned to
// minute/hour boundaries so the firing phase survives process restarts.
func Build(event *models.Event) (Rule, error) {
	if expr := strings.TrimSpace(event.CronExpression); expr != "" {
		return Rule{Expr: expr}, nil
	}

	n := event.ScheduleNumber
	if n < 1 {
		return Rule{}, fmt.Errorf("schedule number must be positive, got %d", n)
	}

	switch event.ScheduleUnit {
	case models.UnitSeconds:
		var secs string
		switch {
		case n == 15:
			secs = "0,15,30,45"
		case n == 30:
			secs = "0,30"
		case n < 60:
			secs = strconv.Itoa(n)
		default:
			return Rule{}, fmt.Errorf("invalid seconds value %d", n)
		}
		return Rule{Expr: secs + " * * * * *", WithSeconds: true}, nil

	case models.UnitMinutes:
		return Rule{Expr: fmt.Sprintf("%s * * * *", stepList(n, 60))}, nil

	case models.UnitHours:
		return Rule{Expr: fmt.Sprintf("0 %s * * *", stepList(n, 24))}, nil

	case models.UnitDays:
		return Rule{Expr: fmt.Sprintf("0 0 * * %s", stepList(n, 7))}, nil

	default:
		return Rule{}, fmt.Errorf("unsupported schedule unit %q", event.ScheduleUnit)
	}
}

// stepList renders {0, n, 2n, ...} below limit as a cron value list.
func stepList(n, limit int) string {
	var b strings.Builder
	for v := 0; v < limit; v += n {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// MinInterval is the debounce threshold between accepted timer fires for an
// event: 80% of the nominal interval for second-level schedules, a small
// fixed floor for everything else.
func MinInterval(event *models.Event) time.Duration {
	if event.CronExpression == "" && event.ScheduleUnit == models.UnitSeconds && event.ScheduleNumber > 0 {
		return time.Duration(float64(event.ScheduleNumber)*0.8) * time.Second
	}
	return 5 * time.Second
}
