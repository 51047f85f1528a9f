package counting

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andino-erp/andino-erp/internal/platform/db"
)

// errSessionExists is returned by InsertSession when a unique index rejects
// the row; the service translates it into lock contention.
var errSessionExists = errors.New("counting: conflicting session row")

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for counting sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	SessionByAgreement(ctx context.Context, agreementID int64) (Session, error)
	SessionByUser(ctx context.Context, userID int64) (Session, error)
	InsertSession(ctx context.Context, s Session) (int64, error)
	UpsertLine(ctx context.Context, line Line) error
	DeleteSession(ctx context.Context, sessionID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a serializable transaction. The
// check-then-insert in AcquireOrResume depends on this isolation level.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetSession returns the session by id.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT id, agreement_id, user_id, created_at
FROM counting_sessions WHERE id = $1`, id))
}

// SessionByUser returns the user's in-progress session outside a transaction.
func (r *Repository) SessionByUser(ctx context.Context, userID int64) (Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT id, agreement_id, user_id, created_at
FROM counting_sessions WHERE user_id = $1`, userID))
}

// GetLines returns the session's counted lines.
func (r *Repository) GetLines(ctx context.Context, sessionID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT session_id, product_id, qty
FROM counting_lines WHERE session_id = $1 ORDER BY product_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.SessionID, &l.ProductID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepository) SessionByAgreement(ctx context.Context, agreementID int64) (Session, error) {
	return scanSession(t.tx.QueryRow(ctx, `SELECT id, agreement_id, user_id, created_at
FROM counting_sessions WHERE agreement_id = $1`, agreementID))
}

func (t *txRepository) SessionByUser(ctx context.Context, userID int64) (Session, error) {
	return scanSession(t.tx.QueryRow(ctx, `SELECT id, agreement_id, user_id, created_at
FROM counting_sessions WHERE user_id = $1`, userID))
}

func (t *txRepository) InsertSession(ctx context.Context, s Session) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO counting_sessions (agreement_id, user_id, created_at)
VALUES ($1, $2, NOW()) RETURNING id`, s.AgreementID, s.UserID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, errSessionExists
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepository) UpsertLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO counting_lines (session_id, product_id, qty)
VALUES ($1, $2, $3)
ON CONFLICT (session_id, product_id) DO UPDATE SET qty = EXCLUDED.qty`,
		line.SessionID, line.ProductID, line.Qty)
	return err
}

func (t *txRepository) DeleteSession(ctx context.Context, sessionID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM counting_lines WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM counting_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.AgreementID, &s.UserID, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}
