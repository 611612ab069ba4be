package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/flatchores/internal/chore"
	"github.com/dukerupert/flatchores/internal/model"
	"github.com/dukerupert/flatchores/internal/store"
)

// Scheduler sends one digest per apartment per day once the configured hour
// has passed. It only reads instances.
type Scheduler struct {
	mu        sync.RWMutex
	tasks     *store.TaskStore
	instances *store.InstanceStore
	notifier  Notifier
	logger    *slog.Logger
	loc       *time.Location
	hour      int
	interval  time.Duration
	now       func() time.Time
	lastRun   model.Date
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler creates a reminder scheduler that fires at hour:00 in loc.
func NewScheduler(tasks *store.TaskStore, instances *store.InstanceStore, notifier Notifier, loc *time.Location, hour int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:     tasks,
		instances: instances,
		notifier:  notifier,
		logger:    logger,
		loc:       loc,
		hour:      hour,
		interval:  time.Minute,
		now:       time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// tick runs the daily digest if it is due and has not run today.
func (s *Scheduler) tick(ctx context.Context) {
	local := s.now().In(s.loc)
	today := model.DateOf(local)

	s.mu.Lock()
	if local.Hour() < s.hour || s.lastRun.Equal(today) {
		s.mu.Unlock()
		return
	}
	s.lastRun = today
	s.mu.Unlock()

	n, err := s.RunOnce(ctx, today)
	if err != nil {
		s.logger.Error("reminder run failed", "date", today.String(), "error", err)
		return
	}
	s.logger.Info("reminders sent", "date", today.String(), "apartments", n)
}

// RunOnce sends a digest of instances due on or before today to every
// apartment that has any, and returns how many digests went out. A failing
// notifier does not stop the remaining apartments.
func (s *Scheduler) RunOnce(ctx context.Context, today model.Date) (int, error) {
	due, err := s.instances.ListDue(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list due instances: %w", err)
	}

	titles := make(map[int64]string)
	titleOf := func(inst model.TaskInstance) string {
		if inst.TemplateID == nil {
			return inst.Notes
		}
		if title, ok := titles[*inst.TemplateID]; ok {
			return title
		}
		t, err := s.tasks.GetByID(ctx, *inst.TemplateID)
		if err != nil || t == nil {
			return ""
		}
		titles[t.ID] = t.Title
		return t.Title
	}

	var digests []Digest
	for _, inst := range due {
		if len(digests) == 0 || digests[len(digests)-1].ApartmentID != inst.ApartmentID {
			digests = append(digests, Digest{ApartmentID: inst.ApartmentID, Date: today})
		}
		d := &digests[len(digests)-1]
		d.Items = append(d.Items, Item{
			InstanceID:     inst.ID,
			Title:          titleOf(inst),
			DueDate:        inst.DueDate,
			AssignedUserID: inst.AssignedUserID,
			Status:         chore.ComputeStatus(inst, today),
		})
	}

	sent := 0
	for _, d := range digests {
		if err := s.notifier.Notify(ctx, d); err != nil {
			s.logger.Warn("reminder delivery failed", "apartment_id", d.ApartmentID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}
