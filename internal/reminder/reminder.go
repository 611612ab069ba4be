package reminder

import (
	"context"
	"log/slog"

	"github.com/dukerupert/flatchores/internal/chore"
	"github.com/dukerupert/flatchores/internal/model"
)

// Item is one instance that needs doing.
type Item struct {
	InstanceID     int64        `json:"instance_id"`
	Title          string       `json:"title"`
	DueDate        model.Date   `json:"due_date"`
	AssignedUserID *int64       `json:"assigned_user_id,omitempty"`
	Status         chore.Status `json:"status"`
}

// Digest collects an apartment's outstanding instances for one day.
type Digest struct {
	ApartmentID int64      `json:"apartment_id"`
	Date        model.Date `json:"date"`
	Items       []Item     `json:"items"`
}

// Overdue counts the items that were due before the digest date.
func (d Digest) Overdue() int {
	n := 0
	for _, it := range d.Items {
		if it.Status == chore.StatusOverdue {
			n++
		}
	}
	return n
}

// Notifier delivers a digest to the apartment's members.
type Notifier interface {
	Notify(ctx context.Context, d Digest) error
}

// LogNotifier writes digests to a logger. It stands in for push delivery,
// which lives outside this service.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, d Digest) error {
	n.logger.InfoContext(ctx, "chore reminder",
		"apartment_id", d.ApartmentID,
		"date", d.Date.String(),
		"due", len(d.Items),
		"overdue", d.Overdue(),
	)
	for _, it := range d.Items {
		n.logger.DebugContext(ctx, "chore reminder item",
			"apartment_id", d.ApartmentID,
			"instance_id", it.InstanceID,
			"title", it.Title,
			"due_date", it.DueDate.String(),
			"status", string(it.Status),
		)
	}
	return nil
}
