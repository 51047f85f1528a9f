package counting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/andino-erp/andino-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSession(ctx context.Context, id int64) (Session, error)
	SessionByUser(ctx context.Context, userID int64) (Session, error)
	GetLines(ctx context.Context, sessionID int64) ([]Line, error)
}

// DirectoryPort resolves user names for the lock-contention message.
type DirectoryPort interface {
	UserName(ctx context.Context, userID int64) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service serializes physical-count access per agreement and stages counted
// quantities until the count is finalized or abandoned.
type Service struct {
	repo      RepositoryPort
	directory DirectoryPort
	audit     AuditPort
	notifier  NotifierPort
	logger    *slog.Logger
}

// NewService constructs the counting service.
func NewService(repo RepositoryPort, directory DirectoryPort, audit AuditPort, notifier NotifierPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, directory: directory, audit: audit, notifier: notifier, logger: logger}
}

// SessionWithLines bundles a session and its counted lines.
type SessionWithLines struct {
	Session Session
	Lines   []Line
}

// AcquireOrResume returns the user's existing in-progress session for the
// agreement, or creates a new one. Contention is reported, never retried:
// if a different user holds the agreement, the error names them; if the
// caller is mid-count on a different agreement, ErrUserBusy is returned.
func (s *Service) AcquireOrResume(ctx context.Context, agreementID, userID int64) (SessionWithLines, error) {
	if agreementID == 0 || userID == 0 {
		return SessionWithLines{}, ErrValidation
	}
	var result SessionWithLines
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.SessionByAgreement(ctx, agreementID)
		switch {
		case err == nil:
			if existing.UserID != userID {
				return s.lockedError(ctx, existing)
			}
			result.Session = existing
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if held, err := tx.SessionByUser(ctx, userID); err == nil {
			if held.AgreementID != agreementID {
				return ErrUserBusy
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		id, err := tx.InsertSession(ctx, Session{AgreementID: agreementID, UserID: userID})
		if err != nil {
			if errors.Is(err, errSessionExists) {
				// Lost the insert race; report the winner.
				holder, herr := tx.SessionByAgreement(ctx, agreementID)
				if herr == nil && holder.UserID != userID {
					return s.lockedError(ctx, holder)
				}
				return ErrUserBusy
			}
			return err
		}
		result.Session = Session{ID: id, AgreementID: agreementID, UserID: userID, CreatedAt: time.Now()}
		return nil
	})
	if err != nil {
		return SessionWithLines{}, err
	}
	lines, err := s.repo.GetLines(ctx, result.Session.ID)
	if err != nil {
		return SessionWithLines{}, err
	}
	result.Lines = lines
	return result, nil
}

// RecordCount upserts the counted quantity for a product. No rule validation
// happens here: counters may record products not yet authorized on the
// agreement; rules are consulted only at finalization.
func (s *Service) RecordCount(ctx context.Context, sessionID, userID, productID int64, qty float64) error {
	if productID == 0 || qty < 0 {
		return ErrValidation
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrNotOwner
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpsertLine(ctx, Line{SessionID: sessionID, ProductID: productID, Qty: qty})
	})
}

// Abandon deletes the session and all its lines as one atomic operation.
func (s *Service) Abandon(ctx context.Context, sessionID, userID int64) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrNotOwner
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteSession(ctx, sessionID)
	})
}

// ActiveForUser returns the user's current in-progress session and lines so a
// disconnected client can resume without losing data. Having no session is
// not an error; it returns nil.
func (s *Service) ActiveForUser(ctx context.Context, userID int64) (*SessionWithLines, error) {
	session, err := s.repo.SessionByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	lines, err := s.repo.GetLines(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &SessionWithLines{Session: session, Lines: lines}, nil
}

// ForceRelease is the privileged variant of Abandon: it does not require the
// caller to own the session and always writes an out-of-band audit record,
// since no document exists yet to carry history. Intended for administrators
// clearing a session left locked by a disconnected client.
func (s *Service) ForceRelease(ctx context.Context, sessionID, actorID int64) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteSession(ctx, sessionID)
	}); err != nil {
		return err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "SESSION_FORCE_RELEASE",
			Entity:   "counting_session",
			EntityID: strconv.FormatInt(sessionID, 10),
			Meta: map[string]any{
				"agreement_id": session.AgreementID,
				"owner_id":     session.UserID,
			},
		}); err != nil {
			s.logger.Error("record force release audit", slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		evt := ForceReleaseEvent{
			SessionID:   sessionID,
			AgreementID: session.AgreementID,
			OwnerID:     session.UserID,
			ActorID:     actorID,
			At:          time.Now(),
		}
		if err := s.notifier.SessionForceReleased(ctx, evt); err != nil {
			s.logger.Warn("notify force release", slog.Any("error", err))
		}
	}
	return nil
}

func (s *Service) lockedError(ctx context.Context, holder Session) error {
	lerr := &LockedError{AgreementID: holder.AgreementID, HolderID: holder.UserID}
	if s.directory != nil {
		name, err := s.directory.UserName(ctx, holder.UserID)
		if err != nil {
			s.logger.Warn("resolve lock holder name", slog.Any("error", err))
		} else {
			lerr.HolderName = name
		}
	}
	return fmt.Errorf("acquire session: %w", lerr)
}
