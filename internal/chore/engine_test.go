package chore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/flatchores/internal/database"
	"github.com/dukerupert/flatchores/internal/model"
	"github.com/dukerupert/flatchores/internal/store"
)

type fixture struct {
	engine     *Engine
	tasks      *store.TaskStore
	instances  *store.InstanceStore
	apartments *store.ApartmentStore
	clock      *time.Time

	apartmentID int64
	alice       int64
	bob         int64
	outsider    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	users := store.NewUserStore(db)
	f := &fixture{
		tasks:      store.NewTaskStore(db),
		instances:  store.NewInstanceStore(db),
		apartments: store.NewApartmentStore(db),
	}

	alice, err := users.Create(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	bob, err := users.Create(ctx, "bob@example.com", "Bob")
	require.NoError(t, err)
	eve, err := users.Create(ctx, "eve@example.com", "Eve")
	require.NoError(t, err)

	apt, err := f.apartments.Create(ctx, "Flat 3B")
	require.NoError(t, err)
	_, err = f.apartments.AddMember(ctx, apt.ID, alice.ID, "owner")
	require.NoError(t, err)
	_, err = f.apartments.AddMember(ctx, apt.ID, bob.ID, "member")
	require.NoError(t, err)

	f.apartmentID, f.alice, f.bob, f.outsider = apt.ID, alice.ID, bob.ID, eve.ID

	now := time.Date(2025, time.June, 2, 18, 0, 0, 0, time.UTC)
	f.clock = &now
	f.engine = NewEngine(store.NewTxRunner(db), Stores{
		Tasks:      f.tasks,
		Instances:  f.instances,
		Apartments: f.apartments,
	},
		WithClock(func() time.Time { return *f.clock }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

func (f *fixture) setToday(d model.Date) {
	*f.clock = time.Date(d.Year, d.Month, d.Day, 18, 0, 0, 0, time.UTC)
}

func (f *fixture) balance(t *testing.T, userID int64) int {
	t.Helper()
	b, err := f.apartments.Balance(context.Background(), f.apartmentID, userID)
	require.NoError(t, err)
	return b
}

func date(year int, month time.Month, day int) *model.Date {
	d := model.NewDate(year, month, day)
	return &d
}

func ptr[T any](v T) *T { return &v }

// weeklyInstance creates a weekly template worth points with one instance due on due.
func (f *fixture) weeklyInstance(t *testing.T, points int, due *model.Date) (*model.TaskTemplate, *model.TaskInstance) {
	t.Helper()
	res, err := f.engine.CreateTemplate(context.Background(), f.alice, CreateTemplateInput{
		ApartmentID:    f.apartmentID,
		Title:          "Vacuum living room",
		Description:    "Under the sofa too",
		Points:         points,
		IsRecurring:    true,
		IntervalType:   model.IntervalWeekly,
		IntervalValue:  1,
		InitialDueDate: due,
		AssignedUserID: &f.bob,
	})
	require.NoError(t, err)
	require.NotNil(t, res.FirstInstance)
	return res.Template, res.FirstInstance
}

func TestCreateTemplateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    CreateTemplateInput
		field string
	}{
		{"missing title", CreateTemplateInput{Title: "   "}, "title"},
		{"negative points", CreateTemplateInput{Title: "x", Points: -1}, "points"},
		{"recurring without interval", CreateTemplateInput{Title: "x", IsRecurring: true, IntervalType: model.IntervalNone}, "interval_type"},
		{"unknown interval", CreateTemplateInput{Title: "x", IsRecurring: true, IntervalType: "fortnightly"}, "interval_type"},
		{"negative interval value", CreateTemplateInput{Title: "x", IsRecurring: true, IntervalType: model.IntervalDaily, IntervalValue: -2}, "interval_value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.ApartmentID = f.apartmentID
			_, err := f.engine.CreateTemplate(ctx, f.alice, tt.in)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreateTemplateNonRecurringStoresNone(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.CreateTemplate(context.Background(), f.alice, CreateTemplateInput{
		ApartmentID:  f.apartmentID,
		Title:        "Defrost freezer",
		IntervalType: model.IntervalMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, model.IntervalNone, res.Template.IntervalType)
	assert.Equal(t, 1, res.Template.IntervalValue)
	assert.Nil(t, res.FirstInstance)
}

func TestCreateTemplateForbiddenForOutsider(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateTemplate(context.Background(), f.outsider, CreateTemplateInput{
		ApartmentID: f.apartmentID,
		Title:       "Sneaky",
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCompleteOnTimeSchedulesNextWeek(t *testing.T) {
	f := newFixture(t)
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))
	f.setToday(model.NewDate(2025, 6, 2))

	res, err := f.engine.CompleteInstance(context.Background(), f.alice, CompleteInput{
		ApartmentID: f.apartmentID,
		InstanceID:  inst.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusDone, res.Instance.Status)
	require.NotNil(t, res.Instance.CompletedAt)
	require.NotNil(t, res.Instance.CompletedByUserID)
	assert.Equal(t, f.alice, *res.Instance.CompletedByUserID)
	assert.Equal(t, 5, res.Instance.Points())

	require.NotNil(t, res.NextInstance)
	assert.Equal(t, model.NewDate(2025, 6, 9), res.NextInstance.DueDate)
	assert.Equal(t, model.StatusOpen, res.NextInstance.Status)
	assert.Equal(t, 5, res.NextInstance.Points())
	assert.Equal(t, "Under the sofa too", res.NextInstance.Notes)
	require.NotNil(t, res.NextInstance.AssignedUserID)
	assert.Equal(t, f.bob, *res.NextInstance.AssignedUserID)

	assert.Equal(t, 5, f.balance(t, f.alice))
}

func TestCompleteStronglyOverdueRestartsFromToday(t *testing.T) {
	f := newFixture(t)
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))
	f.setToday(model.NewDate(2025, 6, 20))

	res, err := f.engine.CompleteInstance(context.Background(), f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	require.NotNil(t, res.NextInstance)
	assert.Equal(t, model.NewDate(2025, 6, 27), res.NextInstance.DueDate)
}

func TestCompleteMildlyOverdueKeepsCadence(t *testing.T) {
	f := newFixture(t)
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))
	f.setToday(model.NewDate(2025, 6, 4))

	res, err := f.engine.CompleteInstance(context.Background(), f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	require.NotNil(t, res.NextInstance)
	assert.Equal(t, model.NewDate(2025, 6, 9), res.NextInstance.DueDate)
}

func TestCompleteEarlyDaily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl, err := f.engine.CreateTemplate(ctx, f.alice, CreateTemplateInput{
		ApartmentID:    f.apartmentID,
		Title:          "Water plants",
		Points:         1,
		IsRecurring:    true,
		IntervalType:   model.IntervalDaily,
		IntervalValue:  3,
		InitialDueDate: date(2025, 6, 10),
	})
	require.NoError(t, err)
	f.setToday(model.NewDate(2025, 6, 5))

	res, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: tmpl.FirstInstance.ID})
	require.NoError(t, err)
	require.NotNil(t, res.NextInstance)
	assert.Equal(t, model.NewDate(2025, 6, 8), res.NextInstance.DueDate)
}

func TestCompleteForSomeoneElse(t *testing.T) {
	f := newFixture(t)
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	res, err := f.engine.CompleteInstance(context.Background(), f.alice, CompleteInput{
		ApartmentID:       f.apartmentID,
		InstanceID:        inst.ID,
		CompletedByUserID: &f.bob,
		PointsAwarded:     ptr(8),
		AssignedUserID:    &f.alice,
	})
	require.NoError(t, err)

	assert.Equal(t, f.bob, *res.Instance.CompletedByUserID)
	assert.Equal(t, 8, res.Instance.Points())
	assert.Equal(t, 8, f.balance(t, f.bob))
	assert.Equal(t, 0, f.balance(t, f.alice))
	assert.Equal(t, f.alice, *res.NextInstance.AssignedUserID)
}

func TestCompleteRecipientMustBeMember(t *testing.T) {
	f := newFixture(t)
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(context.Background(), f.alice, CompleteInput{
		ApartmentID:       f.apartmentID,
		InstanceID:        inst.ID,
		CompletedByUserID: &f.outsider,
	})
	require.ErrorIs(t, err, ErrValidation)

	got, err := f.instances.GetByID(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
}

func TestCompleteDoneInstanceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)

	_, err = f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID, PointsAwarded: ptr(50)})
	require.ErrorIs(t, err, ErrInvalidTransition)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.StatusDone, terr.Current)

	got, err := f.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Points())
	assert.Equal(t, 5, f.balance(t, f.alice))

	all, err := f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2, "a rejected completion must not add a successor")
}

func TestCompleteUnknownOrForeignInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: 9999})
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := f.apartments.Create(ctx, "Flat 4A")
	require.NoError(t, err)
	_, err = f.apartments.AddMember(ctx, other.ID, f.alice, "owner")
	require.NoError(t, err)

	_, err = f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: other.ID, InstanceID: inst.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.CompleteInstance(ctx, f.outsider, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReopenReversesExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	assert.Equal(t, 0, f.balance(t, f.alice))
	done, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, f.balance(t, f.alice))

	res, err := f.engine.ReopenInstance(ctx, f.alice, f.apartmentID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, f.alice))
	assert.Equal(t, 5, res.PointsReversed)

	assert.Equal(t, model.StatusOpen, res.Instance.Status)
	assert.Nil(t, res.Instance.CompletedAt)
	assert.Nil(t, res.Instance.CompletedByUserID)
	assert.Nil(t, res.Instance.PointsAwarded)

	require.NotNil(t, res.RemovedSuccessor)
	assert.Equal(t, done.NextInstance.ID, res.RemovedSuccessor.ID)
	assert.True(t, res.RemovedSuccessor.IsDeleted)

	live, err := f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, inst.ID, live[0].ID)
}

func TestReopenThenCompleteUsesTemplatePoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	_, err = f.engine.ReopenInstance(ctx, f.alice, f.apartmentID, inst.ID)
	require.NoError(t, err)

	res, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Instance.Points())
	assert.Equal(t, 5, f.balance(t, f.alice))
}

func TestReopenClampsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)

	// Spend some of the balance elsewhere: 5 -> 3.
	_, err = f.apartments.ReversePoints(ctx, f.apartmentID, f.alice, 2)
	require.NoError(t, err)
	require.Equal(t, 3, f.balance(t, f.alice))

	_, err = f.engine.ReopenInstance(ctx, f.alice, f.apartmentID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, f.alice))
}

func TestReopenOpenInstanceRejected(t *testing.T) {
	f := newFixture(t)
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.ReopenInstance(context.Background(), f.alice, f.apartmentID, inst.ID)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.StatusOpen, terr.Current)
	assert.Equal(t, model.StatusOpen, terr.Want)
}

func TestSkipSchedulesSuccessorWithoutPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	res, err := f.engine.SkipInstance(ctx, f.alice, f.apartmentID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, res.Instance.Status)
	require.NotNil(t, res.NextInstance)
	assert.Equal(t, model.NewDate(2025, 6, 9), res.NextInstance.DueDate)
	assert.Equal(t, 0, f.balance(t, f.alice))

	_, err = f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.engine.ReopenInstance(ctx, f.alice, f.apartmentID, inst.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeleteDoneInstanceReversesPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)

	res, err := f.engine.DeleteInstance(ctx, f.alice, f.apartmentID, inst.ID)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Equal(t, 5, res.PointsReversed)
	assert.Equal(t, 0, f.balance(t, f.alice))

	// The successor survives: deletion never touches siblings.
	live, err := f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, model.StatusOpen, live[0].Status)

	_, err = f.engine.DeleteInstance(ctx, f.alice, f.apartmentID, inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteClampsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	_, err = f.apartments.ReversePoints(ctx, f.apartmentID, f.alice, 2)
	require.NoError(t, err)

	_, err = f.engine.DeleteInstance(ctx, f.alice, f.apartmentID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, f.alice))
}

func TestArchiveCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, first := f.weeklyInstance(t, 5, date(2025, 6, 2))

	// Two done, two open.
	res, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: first.ID})
	require.NoError(t, err)
	_, err = f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: res.NextInstance.ID})
	require.NoError(t, err)
	_, err = f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{ApartmentID: f.apartmentID, TemplateID: &tmpl.ID, DueDate: date(2025, 7, 1)})
	require.NoError(t, err)

	all, err := f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)

	updated, err := f.engine.UpdateTemplate(ctx, f.alice, UpdateTemplateInput{
		ApartmentID: f.apartmentID,
		TemplateID:  tmpl.ID,
		Archived:    ptr(true),
	})
	require.NoError(t, err)
	assert.True(t, updated.Archived)

	all, err = f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	for _, inst := range all {
		assert.True(t, inst.Archived, "instance %d", inst.ID)
	}

	_, err = f.engine.UpdateTemplate(ctx, f.alice, UpdateTemplateInput{
		ApartmentID: f.apartmentID,
		TemplateID:  tmpl.ID,
		Archived:    ptr(false),
	})
	require.NoError(t, err)

	all, err = f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, inst := range all {
		assert.False(t, inst.Archived, "instance %d", inst.ID)
	}
}

func TestArchiveRollsBackWithInvalidEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.UpdateTemplate(ctx, f.alice, UpdateTemplateInput{
		ApartmentID: f.apartmentID,
		TemplateID:  tmpl.ID,
		Archived:    ptr(true),
		Title:       ptr(""),
	})
	require.ErrorIs(t, err, ErrValidation)

	got, err := f.tasks.GetByID(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.False(t, got.Archived)
	gotInst, err := f.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, gotInst.Archived)
}

func TestUpdateTemplateRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, _ := f.weeklyInstance(t, 5, date(2025, 6, 2))

	updated, err := f.engine.UpdateTemplate(ctx, f.bob, UpdateTemplateInput{
		ApartmentID:   f.apartmentID,
		TemplateID:    tmpl.ID,
		Title:         ptr("Vacuum everything"),
		Points:        ptr(5), // unchanged, not recorded
		IntervalType:  ptr(model.IntervalMonthly),
		IntervalValue: ptr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "Vacuum everything", updated.Title)
	assert.Equal(t, model.IntervalMonthly, updated.IntervalType)

	edits, err := f.engine.TemplateHistory(ctx, f.alice, f.apartmentID, tmpl.ID)
	require.NoError(t, err)

	fields := make(map[string]model.TaskEdit)
	for _, e := range edits {
		fields[e.FieldName] = e
	}
	assert.Len(t, edits, 3)
	assert.Equal(t, "Vacuum living room", fields["title"].OldValue)
	assert.Equal(t, "weekly", fields["interval_type"].OldValue)
	assert.Equal(t, "monthly", fields["interval_type"].NewValue)
	assert.Equal(t, "2", fields["interval_value"].NewValue)
	require.NotNil(t, fields["title"].EditedByUserID)
	assert.Equal(t, f.bob, *fields["title"].EditedByUserID)
}

func TestCreateInstanceDefaultsToInitialDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTemplate(ctx, f.alice, CreateTemplateInput{
		ApartmentID: f.apartmentID,
		Title:       "Bins",
		Points:      2,
		Description: "Green on Tuesdays",
	})
	require.NoError(t, err)

	// No initial due date and no due date given.
	_, err = f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{ApartmentID: f.apartmentID, TemplateID: &res.Template.ID})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.UpdateTemplate(ctx, f.alice, UpdateTemplateInput{
		ApartmentID:    f.apartmentID,
		TemplateID:     res.Template.ID,
		InitialDueDate: date(2025, 6, 3),
	})
	require.NoError(t, err)

	inst, err := f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{ApartmentID: f.apartmentID, TemplateID: &res.Template.ID})
	require.NoError(t, err)
	assert.Equal(t, model.NewDate(2025, 6, 3), inst.DueDate)
	assert.Equal(t, 2, inst.Points())
	assert.Equal(t, "Green on Tuesdays", inst.Notes)

	// With a prior instance the due date is required again.
	_, err = f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{ApartmentID: f.apartmentID, TemplateID: &res.Template.ID})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateInstanceAdoptsInitialDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CreateTemplate(ctx, f.alice, CreateTemplateInput{ApartmentID: f.apartmentID, Title: "Mop"})
	require.NoError(t, err)
	require.Nil(t, res.Template.InitialDueDate)

	_, err = f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{
		ApartmentID: f.apartmentID,
		TemplateID:  &res.Template.ID,
		DueDate:     date(2025, 6, 14),
		Points:      ptr(3),
		Notes:       ptr("kitchen only"),
	})
	require.NoError(t, err)

	got, err := f.tasks.GetByID(ctx, res.Template.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InitialDueDate)
	assert.Equal(t, model.NewDate(2025, 6, 14), *got.InitialDueDate)
}

func TestCreateStandaloneInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{ApartmentID: f.apartmentID, DueDate: date(2025, 6, 5)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{ApartmentID: f.apartmentID, Title: "Fix tap"})
	require.ErrorIs(t, err, ErrValidation)

	inst, err := f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{
		ApartmentID:    f.apartmentID,
		Title:          "Fix tap",
		DueDate:        date(2025, 6, 5),
		Points:         ptr(4),
		AssignedUserID: &f.bob,
	})
	require.NoError(t, err)
	require.NotNil(t, inst.TemplateID)
	assert.Equal(t, 4, inst.Points())

	tmpl, err := f.tasks.GetByID(ctx, *inst.TemplateID)
	require.NoError(t, err)
	assert.True(t, tmpl.Standalone)
	assert.False(t, tmpl.Recurs())
	assert.Equal(t, "Fix tap", tmpl.Title)

	// Completing a standalone instance never schedules a successor.
	res, err := f.engine.CompleteInstance(ctx, f.bob, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	assert.Nil(t, res.NextInstance)
	assert.Equal(t, 4, f.balance(t, f.bob))
}

func TestDeleteTemplateKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)

	res, err := f.engine.DeleteTemplate(ctx, f.alice, f.apartmentID, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.InstancesDeleted)
	assert.Equal(t, 5, f.balance(t, f.alice))

	live, err := f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, model.StatusDone, live[0].Status)

	_, err = f.engine.UpdateTemplate(ctx, f.alice, UpdateTemplateInput{ApartmentID: f.apartmentID, TemplateID: tmpl.ID, Title: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletedTemplateInstancesStayHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)
	_, err = f.engine.DeleteTemplate(ctx, f.alice, f.apartmentID, tmpl.ID)
	require.NoError(t, err)

	_, err = f.engine.ReopenInstance(ctx, f.alice, f.apartmentID, inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, got.Status)
	assert.Equal(t, 5, f.balance(t, f.alice))

	live, err := f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	due, err := f.instances.ListDue(ctx, model.NewDate(2026, 1, 1))
	require.NoError(t, err)
	assert.Empty(t, due)

	// The done instance can still be removed, giving its points back.
	del, err := f.engine.DeleteInstance(ctx, f.alice, f.apartmentID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, del.PointsReversed)
	assert.Equal(t, 0, f.balance(t, f.alice))
}

func TestConcurrentCompletesAwardOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, workers-1)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}

	all, err := f.instances.ListByTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 5, f.balance(t, f.alice))
}

func TestListInstancesByApartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))
	f.setToday(model.NewDate(2025, 6, 4))

	_, err := f.engine.CreateInstance(ctx, f.alice, CreateInstanceInput{ApartmentID: f.apartmentID, Title: "Buy bulbs", DueDate: date(2025, 6, 4)})
	require.NoError(t, err)
	_, err = f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID})
	require.NoError(t, err)

	archived, err := f.engine.CreateTemplate(ctx, f.alice, CreateTemplateInput{ApartmentID: f.apartmentID, Title: "Old chore", InitialDueDate: date(2025, 5, 1)})
	require.NoError(t, err)
	_, err = f.engine.UpdateTemplate(ctx, f.alice, UpdateTemplateInput{ApartmentID: f.apartmentID, TemplateID: archived.Template.ID, Archived: ptr(true)})
	require.NoError(t, err)

	board, err := f.engine.ListInstancesByApartment(ctx, f.alice, f.apartmentID, false)
	require.NoError(t, err)
	assert.Equal(t, model.NewDate(2025, 6, 4), board.Today)

	require.Len(t, board.Templates, 1)
	assert.Equal(t, tmpl.ID, board.Templates[0].ID)
	require.Len(t, board.Templates[0].Instances, 2)
	assert.Equal(t, StatusDone, board.Templates[0].Instances[0].DisplayStatus)
	assert.Equal(t, StatusUpcoming, board.Templates[0].Instances[1].DisplayStatus)

	require.Len(t, board.Standalone, 1)
	assert.Equal(t, "Buy bulbs", board.Standalone[0].Title)
	assert.Equal(t, StatusDueToday, board.Standalone[0].DisplayStatus)

	withArchived, err := f.engine.ListInstancesByApartment(ctx, f.alice, f.apartmentID, true)
	require.NoError(t, err)
	assert.Len(t, withArchived.Templates, 2)

	_, err = f.engine.ListInstancesByApartment(ctx, f.outsider, f.apartmentID, false)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, inst := f.weeklyInstance(t, 5, date(2025, 6, 2))

	_, err := f.engine.CompleteInstance(ctx, f.alice, CompleteInput{ApartmentID: f.apartmentID, InstanceID: inst.ID, CompletedByUserID: &f.bob})
	require.NoError(t, err)

	balances, err := f.engine.Balances(ctx, f.alice, f.apartmentID)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "Bob", balances[0].UserName)
	assert.Equal(t, 5, balances[0].Balance)
}

func TestPolicyAndLocationOptions(t *testing.T) {
	f := newFixture(t)
	loc := time.FixedZone("UTC+10", 10*60*60)
	f.engine = NewEngine(f.engine.tx, Stores{Tasks: f.tasks, Instances: f.instances, Apartments: f.apartments},
		WithLocation(loc),
		WithClock(func() time.Time { return time.Date(2025, time.June, 4, 20, 0, 0, 0, time.UTC) }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	// 20:00 UTC is already the next morning in UTC+10.
	assert.Equal(t, model.NewDate(2025, 6, 5), f.engine.Today())
}
