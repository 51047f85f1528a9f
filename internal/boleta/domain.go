package boleta

import (
	"errors"
	"fmt"
	"time"
)

// Status is the closed set of restock-document states. Transition is the
// only code path that moves a document between them.
type Status string

const (
	StatusReview   Status = "REVIEW"
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusSent     Status = "SENT"
	StatusInvoiced Status = "INVOICED"
	StatusCanceled Status = "CANCELED"
)

// IsValid checks if the status is part of the lifecycle.
func (s Status) IsValid() bool {
	switch s {
	case StatusReview, StatusPending, StatusApproved, StatusSent, StatusInvoiced, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions exist.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled
}

// Editable reports whether lines and notes may still change and rule drift
// still flows into recomputation.
func (s Status) Editable() bool {
	return s == StatusReview || s == StatusPending
}

// edge describes one allowed transition and the field it requires.
type edge struct {
	Action             string
	NeedsERPMovementID bool
	NeedsERPInvoiceNo  bool
}

// transitions is the single source of truth for the document state machine.
var transitions = map[Status]map[Status]edge{
	StatusReview: {
		StatusPending: {Action: "submit", NeedsERPMovementID: true},
	},
	StatusPending: {
		StatusApproved: {Action: "approve"},
		StatusCanceled: {Action: "cancel"},
	},
	StatusApproved: {
		StatusSent:     {Action: "dispatch"},
		StatusCanceled: {Action: "cancel"},
	},
	StatusSent: {
		StatusInvoiced: {Action: "invoice", NeedsERPInvoiceNo: true},
		StatusCanceled: {Action: "cancel"},
	},
	StatusInvoiced: {
		StatusSent: {Action: "revert"},
	},
}

// edgeFor returns the transition edge between two statuses, if one exists.
func edgeFor(from, to Status) (edge, bool) {
	e, ok := transitions[from][to]
	return e, ok
}

// Document is the restock boleta generated from a finished counting session.
// It is never deleted; cancellation is a terminal status, not a delete.
type Document struct {
	ID            int64
	Code          string
	AgreementID   int64
	Status        Status
	CreatedBy     int64
	CreatedAt     time.Time
	SubmittedBy   *int64
	SubmittedAt   *time.Time
	ApprovedBy    *int64
	ApprovedAt    *time.Time
	ERPMovementID *string
	ERPInvoiceNo  *string
	DeliveryDate  *time.Time
	Notes         string
}

// Line is one product on a document. CountedQty is copied from the session at
// creation and immutable afterwards; MaxStock and Price are snapshots that
// recomputation refreshes while the document is editable.
type Line struct {
	ID             int64
	DocumentID     int64
	ProductID      int64
	Description    string
	CountedQty     float64
	MaxStock       float64
	Price          float64
	ReplenishQty   float64
	ManuallyEdited bool
}

// HistoryEntry is one append-only audit row for a document.
type HistoryEntry struct {
	ID         int64
	DocumentID int64
	Status     Status
	Note       string
	ActorID    int64
	At         time.Time
}

var (
	// ErrNotFound indicates document, line or session not found.
	ErrNotFound = errors.New("boleta: not found")
	// ErrValidation indicates invalid input or an illegal transition.
	ErrValidation = errors.New("boleta: invalid input")
)

// ValidationError carries the field or edge a transition request is missing,
// since the UI surfaces it verbatim for correction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("boleta: %s: %s", e.Field, e.Reason)
	}
	return "boleta: " + e.Reason
}

// Is lets errors.Is(err, ErrValidation) match a ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ReplenishQty computes the amount to ship to bring counted stock back up to
// the ceiling. A ceiling of zero disables replenishment, and the result is
// never negative regardless of drift in either input.
func ReplenishQty(maxStock, counted float64) float64 {
	if maxStock <= 0 {
		return 0
	}
	if counted >= maxStock {
		return 0
	}
	return maxStock - counted
}

// FormatCode builds the human-readable consecutive code. The numeric suffix
// is always zero-padded to four digits and is per-agreement, not global;
// printed and emailed documents depend on this exact shape.
func FormatCode(clientID string, number int64) string {
	return fmt.Sprintf("%s-%04d", clientID, number)
}
