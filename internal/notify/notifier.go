// Package notify turns lifecycle events into queued notification emails.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/andino-erp/andino-erp/internal/boleta"
	"github.com/andino-erp/andino-erp/internal/counting"
	"github.com/andino-erp/andino-erp/jobs"
)

// MailEnqueuer queues an email for the background worker.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// DirectoryPort resolves user notification addresses.
type DirectoryPort interface {
	UserEmail(ctx context.Context, userID int64) (string, error)
}

// Notifier implements the boleta and counting notifier ports. Approvers are
// told when a document needs review; creators when it is approved or
// invoiced; displaced counters when an administrator releases their session.
type Notifier struct {
	mail          MailEnqueuer
	directory     DirectoryPort
	approverInbox string
	logger        *slog.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(mail MailEnqueuer, directory DirectoryPort, approverInbox string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{mail: mail, directory: directory, approverInbox: approverInbox, logger: logger}
}

// DocumentStatusChanged routes a committed status change to its audience.
func (n *Notifier) DocumentStatusChanged(ctx context.Context, evt boleta.StatusChangedEvent) error {
	if n.mail == nil {
		return nil
	}
	switch evt.Status {
	case boleta.StatusPending:
		return n.enqueue(ctx, n.approverInbox,
			fmt.Sprintf("Boleta %s awaiting approval", evt.Code),
			fmt.Sprintf("Restock document %s was submitted and needs approval.", evt.Code))
	case boleta.StatusApproved:
		return n.notifyCreator(ctx, evt,
			fmt.Sprintf("Boleta %s approved", evt.Code),
			fmt.Sprintf("Restock document %s was approved.", evt.Code))
	case boleta.StatusInvoiced:
		return n.notifyCreator(ctx, evt,
			fmt.Sprintf("Boleta %s invoiced", evt.Code),
			fmt.Sprintf("Restock document %s was invoiced.", evt.Code))
	default:
		return nil
	}
}

// SessionForceReleased tells the displaced counter their session is gone.
func (n *Notifier) SessionForceReleased(ctx context.Context, evt counting.ForceReleaseEvent) error {
	if n.mail == nil {
		return nil
	}
	to, err := n.directory.UserEmail(ctx, evt.OwnerID)
	if err != nil {
		return fmt.Errorf("notify: resolve owner email: %w", err)
	}
	return n.enqueue(ctx, to,
		"Counting session released",
		fmt.Sprintf("Your counting session for agreement %d was released by an administrator.", evt.AgreementID))
}

func (n *Notifier) notifyCreator(ctx context.Context, evt boleta.StatusChangedEvent, subject, body string) error {
	to, err := n.directory.UserEmail(ctx, evt.CreatedBy)
	if err != nil {
		return fmt.Errorf("notify: resolve creator email: %w", err)
	}
	return n.enqueue(ctx, to, subject, body)
}

func (n *Notifier) enqueue(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return nil
	}
	_, err := n.mail.EnqueueSendEmail(ctx, jobs.SendEmailPayload{To: to, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("notify: enqueue mail: %w", err)
	}
	return nil
}
