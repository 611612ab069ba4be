package reminder

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/dukerupert/flatchores/internal/chore"
	"github.com/dukerupert/flatchores/internal/email"
	"github.com/dukerupert/flatchores/internal/model"
)

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

// Members resolves who lives in an apartment.
type Members interface {
	GetByID(ctx context.Context, id int64) (*model.Apartment, error)
	ListMemberUsers(ctx context.Context, apartmentID int64) ([]model.User, error)
}

// EmailNotifier mails each digest to every member of the apartment.
type EmailNotifier struct {
	mailer  Mailer
	members Members
}

func NewEmailNotifier(mailer Mailer, members Members) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, members: members}
}

func (n *EmailNotifier) Notify(ctx context.Context, d Digest) error {
	apt, err := n.members.GetByID(ctx, d.ApartmentID)
	if err != nil {
		return fmt.Errorf("get apartment: %w", err)
	}
	if apt == nil {
		return nil
	}
	users, err := n.members.ListMemberUsers(ctx, d.ApartmentID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	msg := digestMessage(apt.Name, d)
	var errs []error
	for _, u := range users {
		msg.To = u.Email
		if err := n.mailer.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("mail %s: %w", u.Email, err))
		}
	}
	return errors.Join(errs...)
}

func digestMessage(apartmentName string, d Digest) email.Message {
	noun := "chores"
	if len(d.Items) == 1 {
		noun = "chore"
	}
	subject := fmt.Sprintf("%d %s due in %s", len(d.Items), noun, apartmentName)

	var text, body strings.Builder
	body.WriteString("<ul>")
	for _, it := range d.Items {
		label := it.DueDate.String()
		if it.Status == chore.StatusOverdue {
			label = "overdue since " + label
		}
		fmt.Fprintf(&text, "- %s (%s)\n", it.Title, label)
		fmt.Fprintf(&body, "<li>%s <em>(%s)</em></li>", html.EscapeString(it.Title), label)
	}
	body.WriteString("</ul>")

	return email.Message{Subject: subject, TextBody: text.String(), HTMLBody: body.String()}
}
