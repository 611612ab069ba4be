package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dukerupert/flatchores/internal/model"
)

func d(year int, month time.Month, day int) model.Date {
	return model.NewDate(year, month, day)
}

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		name     string
		original model.Date
		interval model.IntervalType
		value    int
		today    model.Date
		want     model.Date
	}{
		{"weekly on time", d(2025, 6, 2), model.IntervalWeekly, 1, d(2025, 6, 2), d(2025, 6, 9)},
		{"weekly strongly overdue", d(2025, 6, 2), model.IntervalWeekly, 1, d(2025, 6, 20), d(2025, 6, 27)},
		{"weekly mildly overdue", d(2025, 6, 2), model.IntervalWeekly, 1, d(2025, 6, 4), d(2025, 6, 9)},
		{"weekly overdue at exactly half rounds down to mild", d(2025, 6, 2), model.IntervalWeekly, 1, d(2025, 6, 5), d(2025, 6, 9)},
		{"weekly overdue past half", d(2025, 6, 2), model.IntervalWeekly, 1, d(2025, 6, 6), d(2025, 6, 13)},
		{"daily early", d(2025, 6, 10), model.IntervalDaily, 3, d(2025, 6, 5), d(2025, 6, 8)},
		{"daily one day late is strongly overdue", d(2025, 6, 10), model.IntervalDaily, 1, d(2025, 6, 11), d(2025, 6, 12)},
		{"biweekly on time", d(2025, 6, 2), model.IntervalWeekly, 2, d(2025, 6, 2), d(2025, 6, 16)},
		{"monthly on time", d(2025, 1, 15), model.IntervalMonthly, 1, d(2025, 1, 15), d(2025, 2, 15)},
		{"monthly mildly overdue keeps cadence", d(2025, 1, 15), model.IntervalMonthly, 1, d(2025, 1, 25), d(2025, 2, 15)},
		{"monthly strongly overdue", d(2025, 1, 15), model.IntervalMonthly, 1, d(2025, 2, 1), d(2025, 3, 1)},
		{"monthly overflow rolls over", d(2025, 1, 31), model.IntervalMonthly, 1, d(2025, 1, 31), d(2025, 3, 3)},
		{"custom on time", d(2025, 6, 2), model.IntervalCustom, 10, d(2025, 6, 2), d(2025, 6, 12)},
		{"custom mildly overdue", d(2025, 6, 2), model.IntervalCustom, 10, d(2025, 6, 6), d(2025, 6, 12)},
		{"across year end", d(2025, 12, 29), model.IntervalWeekly, 1, d(2025, 12, 29), d(2026, 1, 5)},
		{"across dst change", d(2025, 3, 28), model.IntervalDaily, 3, d(2025, 3, 28), d(2025, 3, 31)},
		{"zero value treated as one", d(2025, 6, 2), model.IntervalDaily, 0, d(2025, 6, 2), d(2025, 6, 3)},
		{"none keeps date", d(2025, 6, 2), model.IntervalNone, 1, d(2025, 6, 10), d(2025, 6, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDueDate(tt.original, tt.interval, tt.value, tt.today)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextDueDateIdempotent(t *testing.T) {
	original := d(2025, 6, 2)
	today := d(2025, 6, 20)

	first := NextDueDate(original, model.IntervalWeekly, 1, today)
	second := NextDueDate(original, model.IntervalWeekly, 1, today)
	assert.Equal(t, first, second)
}

func TestPolicyKeepsCadenceOnEarlyCompletion(t *testing.T) {
	p := Policy{StrongOverdueRatio: 0.5, ResetOnEarlyCompletion: false}

	got := p.NextDueDate(d(2025, 6, 10), model.IntervalDaily, 3, d(2025, 6, 5))
	assert.Equal(t, d(2025, 6, 13), got)
}

func TestPolicyCustomRatio(t *testing.T) {
	p := Policy{StrongOverdueRatio: 1.0, ResetOnEarlyCompletion: true}

	// 6 days late on a weekly chore is below a full interval.
	got := p.NextDueDate(d(2025, 6, 2), model.IntervalWeekly, 1, d(2025, 6, 8))
	assert.Equal(t, d(2025, 6, 9), got)

	got = p.NextDueDate(d(2025, 6, 2), model.IntervalWeekly, 1, d(2025, 6, 9))
	assert.Equal(t, d(2025, 6, 16), got)
}

func TestIntervalDays(t *testing.T) {
	assert.Equal(t, 3, IntervalDays(model.IntervalDaily, 3))
	assert.Equal(t, 14, IntervalDays(model.IntervalWeekly, 2))
	assert.Equal(t, 60, IntervalDays(model.IntervalMonthly, 2))
	assert.Equal(t, 5, IntervalDays(model.IntervalCustom, 5))
	assert.Equal(t, 0, IntervalDays(model.IntervalNone, 5))
}
