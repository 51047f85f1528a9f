package boleta

import (
	"context"
	"time"
)

// StatusChangedEvent describes a committed document status change for the
// notification collaborator. Delivery and formatting are entirely the
// collaborator's concern; the engine only emits synchronously.
type StatusChangedEvent struct {
	DocumentID  int64
	Code        string
	AgreementID int64
	Previous    Status
	Status      Status
	ActorID     int64
	CreatedBy   int64
	Notes       string
	At          time.Time
}

// NotifierPort receives lifecycle events, e.g. to mail approvers when a
// document reaches PENDING or the creator when it is approved or invoiced.
type NotifierPort interface {
	DocumentStatusChanged(ctx context.Context, evt StatusChangedEvent) error
}
