// Package dispatch consumes alert events and turns them into outbound
// notifications: a rendered email on the primary channel and, when the
// tenant configured one, a summarized message card on its chat webhook. The
// secondary channel is best-effort and can never fail the primary send.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/notify"
	"github.com/citewatch/citewatch/internal/store"
)

// Directory resolves the tenant-side data a notification needs.
type Directory interface {
	GetOrganization(ctx context.Context, id int64) (*models.Organization, error)
	GetCheckpoint(ctx context.Context, siteID int64, period string) (*models.Checkpoint, error)
	MarkCheckpointNotified(ctx context.Context, siteID int64, period string) (bool, error)
}

// Outcome records what happened to one event. Not sending is a normal
// result, not an error: the reason says why.
type Outcome struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

// Dispatcher routes events to the notification channels.
type Dispatcher struct {
	dir   Directory
	email notify.EmailSender
	chat  notify.ChatSender
}

// New creates a dispatcher. A nil email sender disables the primary channel
// (logged, not an error); a nil chat sender disables the secondary one.
func New(dir Directory, email notify.EmailSender, chat notify.ChatSender) *Dispatcher {
	return &Dispatcher{dir: dir, email: email, chat: chat}
}

// Handle processes one event from the bus. Only directory read failures
// propagate (so the transport can redeliver); everything else resolves to an
// Outcome and is logged.
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) error {
	out, err := d.deliver(ctx, ev)
	if err != nil {
		return err
	}

	if out.Sent {
		logrus.Infof("Dispatched %s for site %d", ev.Type, ev.SiteID)
	} else {
		logrus.Infof("Skipped %s for site %d: %s", ev.Type, ev.SiteID, out.Reason)
	}

	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev events.Event) (Outcome, error) {
	org, err := d.dir.GetOrganization(ctx, ev.OrgID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{Reason: "organization not found"}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve organization %d: %w", ev.OrgID, err)
	}

	if !classEnabled(org, ev.Type) {
		return Outcome{Reason: "notifications disabled for event class"}, nil
	}

	var cp *models.Checkpoint
	if ev.Type == events.TypeMonthlyReport {
		cp, err = d.dir.GetCheckpoint(ctx, ev.SiteID, ev.Period)
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{Reason: "checkpoint missing"}, nil
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve checkpoint %d/%s: %w", ev.SiteID, ev.Period, err)
		}
		if cp.NotifiedAt != nil {
			return Outcome{Reason: "report already sent"}, nil
		}
	}

	if org.ContactEmail == "" {
		return Outcome{Reason: "no contact email"}, nil
	}

	out := Outcome{Reason: "email channel not configured"}
	if d.email != nil {
		msg, err := Email(ev, org, cp)
		if err != nil {
			return Outcome{}, fmt.Errorf("render %s email: %w", ev.Type, err)
		}

		if err := d.email.Send(ctx, msg); err != nil {
			// A missed alert is recovered by the next cycle; the send
			// failure must not bounce the event back into redelivery.
			logrus.Errorf("Failed to send %s email to %s: %v", ev.Type, org.ContactEmail, err)
			out = Outcome{Reason: "email send failed"}
		} else {
			out = Outcome{Sent: true}
		}
	}

	if out.Sent && ev.Type == events.TypeMonthlyReport {
		marked, err := d.dir.MarkCheckpointNotified(ctx, ev.SiteID, ev.Period)
		if err != nil {
			logrus.Errorf("Failed to mark checkpoint %d/%s notified: %v", ev.SiteID, ev.Period, err)
		} else if !marked {
			logrus.Warnf("Checkpoint %d/%s was already marked notified", ev.SiteID, ev.Period)
		}
	}

	// Secondary channel: isolated and best-effort.
	if org.ChatWebhookURL != "" && d.chat != nil {
		if err := d.chat.Post(ctx, org.ChatWebhookURL, ChatCard(ev)); err != nil {
			logrus.Errorf("Failed to post %s to chat webhook for org %d: %v", ev.Type, org.ID, err)
		}
	}

	return out, nil
}

// classEnabled checks the per-tenant preference flag for an event class.
func classEnabled(org *models.Organization, t events.Type) bool {
	switch t {
	case events.TypeNewCitation:
		return org.NotifyNewCitation
	case events.TypeVisibilityDrop:
		return org.NotifyVisibilityDrop
	case events.TypeCompetitorGain:
		return org.NotifyCompetitorGain
	case events.TypeMonthlyReport:
		return org.NotifyReports
	default:
		return false
	}
}
