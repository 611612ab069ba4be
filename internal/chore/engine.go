package chore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/flatchores/internal/model"
	"github.com/dukerupert/flatchores/internal/recurrence"
	"github.com/dukerupert/flatchores/internal/store"
)

// Stores groups the persistence the engine depends on.
type Stores struct {
	Tasks      *store.TaskStore
	Instances  *store.InstanceStore
	Apartments *store.ApartmentStore
}

// Engine owns every state change of templates, instances and point balances.
// Each mutating operation runs in a single transaction: either all of its
// writes land or none do.
type Engine struct {
	tx         *store.TxRunner
	tasks      *store.TaskStore
	instances  *store.InstanceStore
	apartments *store.ApartmentStore

	policy recurrence.Policy
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Engine)

// WithPolicy overrides the recurrence heuristics.
func WithPolicy(p recurrence.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLocation sets the timezone that decides which calendar day "today" is.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(tx *store.TxRunner, s Stores, opts ...Option) *Engine {
	e := &Engine{
		tx:         tx,
		tasks:      s.Tasks,
		instances:  s.Instances,
		apartments: s.Apartments,
		policy:     recurrence.DefaultPolicy,
		loc:        time.UTC,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today returns the current calendar day in the engine's location.
func (e *Engine) Today() model.Date {
	return model.DateOf(e.now().In(e.loc))
}

// --- Inputs and results ---

type CreateTemplateInput struct {
	ApartmentID    int64
	Title          string
	Description    string
	Points         int
	IsRecurring    bool
	IntervalType   model.IntervalType
	IntervalValue  int
	Color          string
	InitialDueDate *model.Date
	AssignedUserID *int64
}

type CreateTemplateResult struct {
	Template      *model.TaskTemplate `json:"template"`
	FirstInstance *model.TaskInstance `json:"first_instance,omitempty"`
}

// UpdateTemplateInput is a partial update: nil fields are left unchanged.
type UpdateTemplateInput struct {
	ApartmentID    int64
	TemplateID     int64
	Title          *string
	Description    *string
	Points         *int
	IsRecurring    *bool
	IntervalType   *model.IntervalType
	IntervalValue  *int
	Color          *string
	InitialDueDate *model.Date
	Archived       *bool
}

type DeleteTemplateResult struct {
	TemplateID       int64 `json:"template_id"`
	InstancesDeleted int64 `json:"instances_deleted"`
}

// CreateInstanceInput creates an instance of TemplateID, or a standalone
// instance when TemplateID is nil. Title is required for standalone instances.
type CreateInstanceInput struct {
	ApartmentID    int64
	TemplateID     *int64
	Title          string
	DueDate        *model.Date
	AssignedUserID *int64
	Points         *int
	Notes          *string
}

type CompleteInput struct {
	ApartmentID int64
	InstanceID  int64
	// CompletedByUserID receives the points. Defaults to the actor.
	CompletedByUserID *int64
	PointsAwarded     *int
	// AssignedUserID overrides the assignee carried over to the successor.
	AssignedUserID *int64
}

type CompleteResult struct {
	Instance     *model.TaskInstance `json:"instance"`
	NextInstance *model.TaskInstance `json:"next_instance,omitempty"`
}

type ReopenResult struct {
	Instance         *model.TaskInstance `json:"instance"`
	RemovedSuccessor *model.TaskInstance `json:"removed_successor,omitempty"`
	PointsReversed   int                 `json:"points_reversed"`
}

type SkipResult struct {
	Instance     *model.TaskInstance `json:"instance"`
	NextInstance *model.TaskInstance `json:"next_instance,omitempty"`
}

type DeleteInstanceResult struct {
	InstanceID     int64 `json:"instance_id"`
	Deleted        bool  `json:"deleted"`
	PointsReversed int   `json:"points_reversed,omitempty"`
}

// InstanceView is an instance annotated for listing.
type InstanceView struct {
	model.TaskInstance
	Title         string `json:"title,omitempty"`
	DisplayStatus Status `json:"display_status"`
}

type TemplateWithInstances struct {
	model.TaskTemplate
	Instances []InstanceView `json:"instances"`
}

// Board is an apartment's chore listing.
type Board struct {
	Today      model.Date              `json:"today"`
	Templates  []TemplateWithInstances `json:"templates"`
	Standalone []InstanceView          `json:"standalone"`
}

// --- Guards and loaders ---

func (e *Engine) authorize(ctx context.Context, apartmentID, actorID int64) error {
	ok, err := e.apartments.IsMember(ctx, apartmentID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (e *Engine) requireMember(ctx context.Context, apartmentID int64, userID *int64, field string) error {
	if userID == nil {
		return nil
	}
	ok, err := e.apartments.IsMember(ctx, apartmentID, *userID)
	if err != nil {
		return err
	}
	if !ok {
		return invalid(field, "user is not a member of this apartment")
	}
	return nil
}

func (e *Engine) loadTemplate(ctx context.Context, apartmentID, id int64) (*model.TaskTemplate, error) {
	t, err := e.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil || t.IsDeleted || t.ApartmentID != apartmentID {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return t, nil
}

func (e *Engine) loadInstance(ctx context.Context, apartmentID, id int64) (*model.TaskInstance, error) {
	i, err := e.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if i == nil || i.IsDeleted || i.ApartmentID != apartmentID {
		return nil, fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	return i, nil
}

// templateOf returns the instance's template, or nil for a legacy instance
// that never had one. Instances of a deleted template are history: they can
// be deleted but not transitioned, so they report ErrNotFound here.
func (e *Engine) templateOf(ctx context.Context, inst *model.TaskInstance) (*model.TaskTemplate, error) {
	if inst.TemplateID == nil {
		return nil, nil
	}
	t, err := e.tasks.GetByID(ctx, *inst.TemplateID)
	if err != nil {
		return nil, err
	}
	if t != nil && t.IsDeleted {
		return nil, fmt.Errorf("template %d of instance %d: %w", t.ID, inst.ID, ErrNotFound)
	}
	return t, nil
}

// transitionError re-reads the instance after a compare-and-set lost and
// reports the status it now has.
func (e *Engine) transitionError(ctx context.Context, id int64, want model.InstanceStatus) error {
	current, err := e.instances.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil || current.IsDeleted {
		return fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	return &TransitionError{Current: current.Status, Want: want}
}

func validateInterval(recurring bool, t model.IntervalType, value int) (model.IntervalType, int, error) {
	if t == "" {
		t = model.IntervalNone
	}
	if !t.Valid() {
		return "", 0, invalid("interval_type", fmt.Sprintf("unknown interval type %q", t))
	}
	if value < 0 {
		return "", 0, invalid("interval_value", "must be at least 1")
	}
	if value == 0 {
		value = 1
	}
	if !recurring {
		return model.IntervalNone, value, nil
	}
	if t == model.IntervalNone {
		return "", 0, invalid("interval_type", "recurring tasks need an interval")
	}
	return t, value, nil
}

// --- Templates ---

// CreateTemplate validates and stores a template. When an initial due date is
// given, the first instance is created with it.
func (e *Engine) CreateTemplate(ctx context.Context, actorID int64, in CreateTemplateInput) (*CreateTemplateResult, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "is required")
	}
	if in.Points < 0 {
		return nil, invalid("points", "must not be negative")
	}
	intervalType, intervalValue, err := validateInterval(in.IsRecurring, in.IntervalType, in.IntervalValue)
	if err != nil {
		return nil, err
	}

	var result CreateTemplateResult
	err = e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, in.ApartmentID, actorID); err != nil {
			return err
		}
		if err := e.requireMember(ctx, in.ApartmentID, in.AssignedUserID, "assigned_user_id"); err != nil {
			return err
		}

		t, err := e.tasks.Create(ctx, model.TaskTemplate{
			ApartmentID:     in.ApartmentID,
			Title:           title,
			Description:     in.Description,
			Points:          in.Points,
			IsRecurring:     in.IsRecurring,
			IntervalType:    intervalType,
			IntervalValue:   intervalValue,
			Color:           in.Color,
			InitialDueDate:  in.InitialDueDate,
			CreatedByUserID: &actorID,
		})
		if err != nil {
			return err
		}
		result.Template = t

		if in.InitialDueDate == nil {
			return nil
		}
		points := t.Points
		first, err := e.instances.Create(ctx, model.TaskInstance{
			TemplateID:     &t.ID,
			ApartmentID:    t.ApartmentID,
			AssignedUserID: in.AssignedUserID,
			DueDate:        *in.InitialDueDate,
			PointsAwarded:  &points,
			Notes:          t.Description,
		})
		if err != nil {
			return err
		}
		if first == nil {
			return fmt.Errorf("first instance of template %d: %w", t.ID, ErrInconsistentState)
		}
		result.FirstInstance = first
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("template created", "apartment_id", in.ApartmentID, "template_id", result.Template.ID, "actor_id", actorID)
	return &result, nil
}

type fieldChange struct {
	field              string
	oldValue, newValue string
}

// UpdateTemplate applies a partial update and records each changed field in
// the edit history. Setting Archived cascades the flag to every instance of
// the template in the same transaction.
func (e *Engine) UpdateTemplate(ctx context.Context, actorID int64, in UpdateTemplateInput) (*model.TaskTemplate, error) {
	var updated *model.TaskTemplate
	var cascaded int64

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, in.ApartmentID, actorID); err != nil {
			return err
		}
		current, err := e.loadTemplate(ctx, in.ApartmentID, in.TemplateID)
		if err != nil {
			return err
		}

		next := *current
		var changes []fieldChange
		track := func(field, oldValue, newValue string) {
			if oldValue != newValue {
				changes = append(changes, fieldChange{field, oldValue, newValue})
			}
		}

		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return invalid("title", "is required")
			}
			track("title", next.Title, title)
			next.Title = title
		}
		if in.Description != nil {
			track("description", next.Description, *in.Description)
			next.Description = *in.Description
		}
		if in.Points != nil {
			if *in.Points < 0 {
				return invalid("points", "must not be negative")
			}
			track("points", strconv.Itoa(next.Points), strconv.Itoa(*in.Points))
			next.Points = *in.Points
		}
		if in.Color != nil {
			track("color", next.Color, *in.Color)
			next.Color = *in.Color
		}
		if in.InitialDueDate != nil {
			track("initial_due_date", dateString(next.InitialDueDate), in.InitialDueDate.String())
			d := *in.InitialDueDate
			next.InitialDueDate = &d
		}
		if in.Archived != nil {
			track("archived", strconv.FormatBool(next.Archived), strconv.FormatBool(*in.Archived))
			next.Archived = *in.Archived
		}

		recurring := next.IsRecurring
		if in.IsRecurring != nil {
			recurring = *in.IsRecurring
		}
		intervalType := next.IntervalType
		if in.IntervalType != nil {
			intervalType = *in.IntervalType
		}
		intervalValue := next.IntervalValue
		if in.IntervalValue != nil {
			intervalValue = *in.IntervalValue
		}
		intervalType, intervalValue, err = validateInterval(recurring, intervalType, intervalValue)
		if err != nil {
			return err
		}
		track("is_recurring", strconv.FormatBool(next.IsRecurring), strconv.FormatBool(recurring))
		track("interval_type", string(next.IntervalType), string(intervalType))
		track("interval_value", strconv.Itoa(next.IntervalValue), strconv.Itoa(intervalValue))
		next.IsRecurring, next.IntervalType, next.IntervalValue = recurring, intervalType, intervalValue

		for _, c := range changes {
			if err := e.tasks.RecordEdit(ctx, next.ID, c.field, c.oldValue, c.newValue, &actorID); err != nil {
				return err
			}
		}

		updated, err = e.tasks.Update(ctx, next)
		if err != nil {
			return err
		}

		if in.Archived != nil {
			cascaded, err = e.instances.SetArchivedByTemplate(ctx, next.ID, *in.Archived)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if in.Archived != nil {
		e.logger.Info("template archive flag set",
			"template_id", in.TemplateID, "archived", *in.Archived, "instances", cascaded, "actor_id", actorID)
	}
	return updated, nil
}

func dateString(d *model.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// DeleteTemplate soft-deletes a template together with its open instances.
// Completed and skipped instances stay as history and keep their points.
func (e *Engine) DeleteTemplate(ctx context.Context, actorID, apartmentID, templateID int64) (*DeleteTemplateResult, error) {
	result := DeleteTemplateResult{TemplateID: templateID}

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, apartmentID, actorID); err != nil {
			return err
		}
		if _, err := e.loadTemplate(ctx, apartmentID, templateID); err != nil {
			return err
		}

		n, err := e.instances.SoftDeleteOpenByTemplate(ctx, templateID, &actorID, e.now())
		if err != nil {
			return err
		}
		result.InstancesDeleted = n
		return e.tasks.SoftDelete(ctx, templateID)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("template deleted", "template_id", templateID, "instances", result.InstancesDeleted, "actor_id", actorID)
	return &result, nil
}

// TemplateHistory returns the field-level edit trail of a template.
func (e *Engine) TemplateHistory(ctx context.Context, actorID, apartmentID, templateID int64) ([]model.TaskEdit, error) {
	if err := e.authorize(ctx, apartmentID, actorID); err != nil {
		return nil, err
	}
	if _, err := e.loadTemplate(ctx, apartmentID, templateID); err != nil {
		return nil, err
	}
	return e.tasks.ListEdits(ctx, templateID)
}

// --- Instances ---

// CreateInstance creates an open instance. For a template without prior
// instances the due date defaults to the template's initial due date, and a
// template that has none adopts the new instance's due date. Standalone
// instances get an implicit non-recurring template.
func (e *Engine) CreateInstance(ctx context.Context, actorID int64, in CreateInstanceInput) (*model.TaskInstance, error) {
	if in.Points != nil && *in.Points < 0 {
		return nil, invalid("points", "must not be negative")
	}
	title := strings.TrimSpace(in.Title)
	if in.TemplateID == nil {
		if title == "" {
			return nil, invalid("title", "is required without a template_id")
		}
		if in.DueDate == nil || in.DueDate.IsZero() {
			return nil, invalid("due_date", "is required")
		}
	}

	var created *model.TaskInstance
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, in.ApartmentID, actorID); err != nil {
			return err
		}
		if err := e.requireMember(ctx, in.ApartmentID, in.AssignedUserID, "assigned_user_id"); err != nil {
			return err
		}

		var tmpl *model.TaskTemplate
		var due model.Date
		if in.TemplateID != nil {
			var err error
			tmpl, err = e.loadTemplate(ctx, in.ApartmentID, *in.TemplateID)
			if err != nil {
				return err
			}
			due, err = e.resolveDueDate(ctx, tmpl, in.DueDate)
			if err != nil {
				return err
			}
		} else {
			due = *in.DueDate
			points := 0
			if in.Points != nil {
				points = *in.Points
			}
			var err error
			tmpl, err = e.tasks.Create(ctx, model.TaskTemplate{
				ApartmentID:     in.ApartmentID,
				Title:           title,
				Points:          points,
				IntervalType:    model.IntervalNone,
				IntervalValue:   1,
				InitialDueDate:  &due,
				Standalone:      true,
				CreatedByUserID: &actorID,
			})
			if err != nil {
				return err
			}
			if tmpl == nil {
				return fmt.Errorf("standalone template: %w", ErrInconsistentState)
			}
		}

		points := tmpl.Points
		if in.Points != nil {
			points = *in.Points
		}
		notes := tmpl.Description
		if in.Notes != nil {
			notes = *in.Notes
		}

		inst, err := e.instances.Create(ctx, model.TaskInstance{
			TemplateID:     &tmpl.ID,
			ApartmentID:    in.ApartmentID,
			AssignedUserID: in.AssignedUserID,
			DueDate:        due,
			PointsAwarded:  &points,
			Notes:          notes,
			Archived:       tmpl.Archived,
		})
		if err != nil {
			return err
		}
		if inst == nil {
			return fmt.Errorf("new instance of template %d: %w", tmpl.ID, ErrInconsistentState)
		}

		if tmpl.InitialDueDate == nil {
			if err := e.tasks.SetInitialDueDate(ctx, tmpl.ID, due); err != nil {
				return err
			}
		}
		created = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("instance created", "apartment_id", in.ApartmentID, "instance_id", created.ID, "due_date", created.DueDate.String())
	return created, nil
}

func (e *Engine) resolveDueDate(ctx context.Context, tmpl *model.TaskTemplate, requested *model.Date) (model.Date, error) {
	if requested != nil && !requested.IsZero() {
		return *requested, nil
	}
	if tmpl.InitialDueDate != nil {
		n, err := e.instances.CountByTemplate(ctx, tmpl.ID)
		if err != nil {
			return model.Date{}, err
		}
		if n == 0 {
			return *tmpl.InitialDueDate, nil
		}
	}
	return model.Date{}, invalid("due_date", "is required")
}

// scheduleSuccessor creates the next open instance of a recurring template
// after inst leaves the open state. It returns nil for non-recurring templates.
func (e *Engine) scheduleSuccessor(ctx context.Context, tmpl *model.TaskTemplate, inst *model.TaskInstance, assignee *int64, today model.Date) (*model.TaskInstance, error) {
	if tmpl == nil || !tmpl.Recurs() {
		return nil, nil
	}

	next := e.policy.NextDueDate(inst.DueDate, tmpl.IntervalType, tmpl.IntervalValue, today)
	if assignee == nil {
		assignee = inst.AssignedUserID
	}
	points := tmpl.Points

	succ, err := e.instances.Create(ctx, model.TaskInstance{
		TemplateID:     &tmpl.ID,
		ApartmentID:    inst.ApartmentID,
		AssignedUserID: assignee,
		DueDate:        next,
		PointsAwarded:  &points,
		Notes:          tmpl.Description,
		Archived:       tmpl.Archived,
	})
	if err != nil {
		return nil, err
	}
	if succ == nil {
		return nil, fmt.Errorf("successor of instance %d: %w", inst.ID, ErrInconsistentState)
	}
	return succ, nil
}

// CompleteInstance moves an open instance to done, credits the recipient and,
// for recurring templates, schedules the next occurrence.
func (e *Engine) CompleteInstance(ctx context.Context, actorID int64, in CompleteInput) (*CompleteResult, error) {
	if in.PointsAwarded != nil && *in.PointsAwarded < 0 {
		return nil, invalid("points_awarded", "must not be negative")
	}

	var result CompleteResult
	var recipient int64
	var points int

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, in.ApartmentID, actorID); err != nil {
			return err
		}
		inst, err := e.loadInstance(ctx, in.ApartmentID, in.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status != model.StatusOpen {
			return &TransitionError{Current: inst.Status, Want: model.StatusDone}
		}

		recipient = actorID
		if in.CompletedByUserID != nil {
			if err := e.requireMember(ctx, in.ApartmentID, in.CompletedByUserID, "completed_by_user_id"); err != nil {
				return err
			}
			recipient = *in.CompletedByUserID
		}
		if err := e.requireMember(ctx, in.ApartmentID, in.AssignedUserID, "assigned_user_id"); err != nil {
			return err
		}

		tmpl, err := e.templateOf(ctx, inst)
		if err != nil {
			return err
		}

		switch {
		case in.PointsAwarded != nil:
			points = *in.PointsAwarded
		case inst.PointsAwarded != nil:
			points = *inst.PointsAwarded
		case tmpl != nil:
			points = tmpl.Points
		}

		ok, err := e.instances.MarkDone(ctx, inst.ID, e.now(), recipient, points)
		if err != nil {
			return err
		}
		if !ok {
			return e.transitionError(ctx, inst.ID, model.StatusDone)
		}

		if points > 0 {
			credited, err := e.apartments.AwardPoints(ctx, in.ApartmentID, recipient, points)
			if err != nil {
				return err
			}
			if !credited {
				e.logger.Warn("points recipient not a member",
					"apartment_id", in.ApartmentID, "user_id", recipient, "instance_id", inst.ID)
			}
		}

		result.NextInstance, err = e.scheduleSuccessor(ctx, tmpl, inst, in.AssignedUserID, e.Today())
		if err != nil {
			return err
		}

		result.Instance, err = e.instances.GetByID(ctx, inst.ID)
		if err != nil {
			return err
		}
		if result.Instance == nil {
			return fmt.Errorf("completed instance %d: %w", inst.ID, ErrInconsistentState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []any{"instance_id", in.InstanceID, "recipient_id", recipient, "points", points, "actor_id", actorID}
	if result.NextInstance != nil {
		attrs = append(attrs, "next_instance_id", result.NextInstance.ID, "next_due_date", result.NextInstance.DueDate.String())
	}
	e.logger.Info("instance completed", attrs...)
	return &result, nil
}

// ReopenInstance moves a done instance back to open. The successor its
// completion scheduled is removed and the points are taken back, clamped so
// the balance never drops below zero.
func (e *Engine) ReopenInstance(ctx context.Context, actorID, apartmentID, instanceID int64) (*ReopenResult, error) {
	var result ReopenResult

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, apartmentID, actorID); err != nil {
			return err
		}
		inst, err := e.loadInstance(ctx, apartmentID, instanceID)
		if err != nil {
			return err
		}
		if inst.Status != model.StatusDone {
			return &TransitionError{Current: inst.Status, Want: model.StatusOpen}
		}
		if _, err := e.templateOf(ctx, inst); err != nil {
			return err
		}

		ok, err := e.instances.Reopen(ctx, inst.ID)
		if err != nil {
			return err
		}
		if !ok {
			return e.transitionError(ctx, inst.ID, model.StatusOpen)
		}

		if inst.TemplateID != nil {
			succ, err := e.instances.EarliestOpenSibling(ctx, *inst.TemplateID, inst.ID)
			if err != nil {
				return err
			}
			if succ != nil {
				if _, err := e.instances.SoftDelete(ctx, succ.ID, &actorID, e.now()); err != nil {
					return err
				}
				result.RemovedSuccessor, err = e.instances.GetByID(ctx, succ.ID)
				if err != nil {
					return err
				}
			}
		}

		result.PointsReversed, err = e.reversePoints(ctx, inst)
		if err != nil {
			return err
		}

		result.Instance, err = e.instances.GetByID(ctx, inst.ID)
		if err != nil {
			return err
		}
		if result.Instance == nil {
			return fmt.Errorf("reopened instance %d: %w", inst.ID, ErrInconsistentState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []any{"instance_id", instanceID, "points_reversed", result.PointsReversed, "actor_id", actorID}
	if result.RemovedSuccessor != nil {
		attrs = append(attrs, "removed_successor_id", result.RemovedSuccessor.ID)
	}
	e.logger.Info("instance reopened", attrs...)
	return &result, nil
}

// reversePoints debits what a done instance awarded. A recipient who has
// left the apartment has no balance left to debit.
func (e *Engine) reversePoints(ctx context.Context, inst *model.TaskInstance) (int, error) {
	points := inst.Points()
	if points <= 0 || inst.CompletedByUserID == nil {
		return 0, nil
	}
	ok, err := e.apartments.ReversePoints(ctx, inst.ApartmentID, *inst.CompletedByUserID, points)
	if err != nil {
		return 0, err
	}
	if !ok {
		e.logger.Warn("points recipient no longer a member",
			"apartment_id", inst.ApartmentID, "user_id", *inst.CompletedByUserID, "instance_id", inst.ID)
	}
	return points, nil
}

// SkipInstance moves an open instance to skipped without awarding points.
// Recurring templates still get their next occurrence.
func (e *Engine) SkipInstance(ctx context.Context, actorID, apartmentID, instanceID int64) (*SkipResult, error) {
	var result SkipResult

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, apartmentID, actorID); err != nil {
			return err
		}
		inst, err := e.loadInstance(ctx, apartmentID, instanceID)
		if err != nil {
			return err
		}
		if inst.Status != model.StatusOpen {
			return &TransitionError{Current: inst.Status, Want: model.StatusSkipped}
		}

		tmpl, err := e.templateOf(ctx, inst)
		if err != nil {
			return err
		}

		ok, err := e.instances.MarkSkipped(ctx, inst.ID)
		if err != nil {
			return err
		}
		if !ok {
			return e.transitionError(ctx, inst.ID, model.StatusSkipped)
		}

		result.NextInstance, err = e.scheduleSuccessor(ctx, tmpl, inst, nil, e.Today())
		if err != nil {
			return err
		}

		result.Instance, err = e.instances.GetByID(ctx, inst.ID)
		if err != nil {
			return err
		}
		if result.Instance == nil {
			return fmt.Errorf("skipped instance %d: %w", inst.ID, ErrInconsistentState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("instance skipped", "instance_id", instanceID, "actor_id", actorID)
	return &result, nil
}

// DeleteInstance soft-deletes an instance in any status. A done instance
// gives its points back first. Siblings are never touched.
func (e *Engine) DeleteInstance(ctx context.Context, actorID, apartmentID, instanceID int64) (*DeleteInstanceResult, error) {
	result := DeleteInstanceResult{InstanceID: instanceID}

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.authorize(ctx, apartmentID, actorID); err != nil {
			return err
		}
		inst, err := e.loadInstance(ctx, apartmentID, instanceID)
		if err != nil {
			return err
		}

		if inst.Status == model.StatusDone {
			result.PointsReversed, err = e.reversePoints(ctx, inst)
			if err != nil {
				return err
			}
		}

		ok, err := e.instances.SoftDelete(ctx, inst.ID, &actorID, e.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("instance %d: %w", inst.ID, ErrNotFound)
		}
		result.Deleted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("instance deleted", "instance_id", instanceID, "points_reversed", result.PointsReversed, "actor_id", actorID)
	return &result, nil
}

// ListInstancesByApartment returns the apartment's templates with their
// instances, plus standalone instances, each annotated with a display status.
func (e *Engine) ListInstancesByApartment(ctx context.Context, actorID, apartmentID int64, includeArchived bool) (*Board, error) {
	if err := e.authorize(ctx, apartmentID, actorID); err != nil {
		return nil, err
	}

	templates, err := e.tasks.ListByApartment(ctx, apartmentID, includeArchived)
	if err != nil {
		return nil, err
	}
	instances, err := e.instances.ListByApartment(ctx, apartmentID, includeArchived)
	if err != nil {
		return nil, err
	}

	today := e.Today()
	byTemplate := make(map[int64][]model.TaskInstance)
	var orphans []model.TaskInstance
	for _, inst := range instances {
		if inst.TemplateID == nil {
			orphans = append(orphans, inst)
			continue
		}
		byTemplate[*inst.TemplateID] = append(byTemplate[*inst.TemplateID], inst)
	}

	board := &Board{
		Today:      today,
		Templates:  []TemplateWithInstances{},
		Standalone: []InstanceView{},
	}
	for _, t := range templates {
		if t.Standalone {
			for _, inst := range byTemplate[t.ID] {
				board.Standalone = append(board.Standalone, view(inst, t.Title, today))
			}
			continue
		}
		entry := TemplateWithInstances{TaskTemplate: t, Instances: []InstanceView{}}
		for _, inst := range byTemplate[t.ID] {
			entry.Instances = append(entry.Instances, view(inst, "", today))
		}
		board.Templates = append(board.Templates, entry)
	}
	for _, inst := range orphans {
		board.Standalone = append(board.Standalone, view(inst, "", today))
	}
	return board, nil
}

func view(inst model.TaskInstance, title string, today model.Date) InstanceView {
	return InstanceView{TaskInstance: inst, Title: title, DisplayStatus: ComputeStatus(inst, today)}
}

// Balances returns every member's point balance in the apartment.
func (e *Engine) Balances(ctx context.Context, actorID, apartmentID int64) ([]model.PointBalance, error) {
	if err := e.authorize(ctx, apartmentID, actorID); err != nil {
		return nil, err
	}
	balances, err := e.apartments.ListBalances(ctx, apartmentID)
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = []model.PointBalance{}
	}
	return balances, nil
}
