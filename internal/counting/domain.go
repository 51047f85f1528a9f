package counting

import (
	"errors"
	"fmt"
	"time"
)

// Session is the in-progress physical count for one agreement. It doubles as
// the exclusive lock: the unique indexes on agreement_id and user_id make a
// transactional insert the lock primitive, so the lock holds across multiple
// application processes without any in-memory state. A session only exists
// while counting is in progress; finalization and abandonment delete it.
type Session struct {
	ID          int64
	AgreementID int64
	UserID      int64
	CreatedAt   time.Time
}

// Line holds the counted quantity for one product in a session. One row per
// product; re-entering a count overwrites the prior value.
type Line struct {
	SessionID int64
	ProductID int64
	Qty       float64
}

var (
	// ErrLocked indicates another user holds the agreement's counting session.
	ErrLocked = errors.New("counting: agreement locked")
	// ErrUserBusy indicates the user already has an in-progress session for
	// another agreement and must finish or abandon it first.
	ErrUserBusy = errors.New("counting: user already counting another agreement")
	// ErrNotOwner indicates the caller does not own the session.
	ErrNotOwner = errors.New("counting: not session owner")
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("counting: session not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("counting: invalid input")
)

// LockedError reports lock contention and names the blocking user, as the
// UI surfaces that message verbatim.
type LockedError struct {
	AgreementID int64
	HolderID    int64
	HolderName  string
}

func (e *LockedError) Error() string {
	name := e.HolderName
	if name == "" {
		name = fmt.Sprintf("user %d", e.HolderID)
	}
	return fmt.Sprintf("counting: agreement %d is being counted by %s", e.AgreementID, name)
}

// Is lets errors.Is(err, ErrLocked) match a LockedError.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}
