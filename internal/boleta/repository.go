package boleta

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andino-erp/andino-erp/internal/agreements"
	"github.com/andino-erp/andino-erp/internal/counting"
	"github.com/andino-erp/andino-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for restock documents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Finalization spans the
// counting session rows, the agreement counter and the new document, which
// is why session reads and deletion appear here as well: a crash between
// those steps must never be visible to other transactions.
type TxRepository interface {
	GetSession(ctx context.Context, sessionID int64) (counting.Session, error)
	GetSessionLines(ctx context.Context, sessionID int64) ([]counting.Line, error)
	DeleteSession(ctx context.Context, sessionID int64) error

	GetAgreement(ctx context.Context, id int64) (agreements.Agreement, error)
	GetProductRules(ctx context.Context, agreementID int64) ([]agreements.ProductRule, error)
	NextDocumentNumber(ctx context.Context, agreementID int64) (int64, error)

	GetDocumentForUpdate(ctx context.Context, id int64) (Document, error)
	InsertDocument(ctx context.Context, doc Document) (int64, error)
	UpdateDocument(ctx context.Context, doc Document) error
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateLine(ctx context.Context, line Line) error
	InsertHistory(ctx context.Context, entry HistoryEntry) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const documentColumns = `id, code, agreement_id, status, created_by, created_at,
submitted_by, submitted_at, approved_by, approved_at,
erp_movement_id, erp_invoice_no, delivery_date, COALESCE(notes, '')`

// GetDocument returns a document by id.
func (r *Repository) GetDocument(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM restock_documents WHERE id = $1`, id))
}

// GetLines returns the document's lines ordered by product.
func (r *Repository) GetLines(ctx context.Context, documentID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, product_id, description,
counted_qty, max_stock, price, replenish_qty, manually_edited
FROM restock_document_lines WHERE document_id = $1 ORDER BY product_id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.ProductID, &l.Description,
			&l.CountedQty, &l.MaxStock, &l.Price, &l.ReplenishQty, &l.ManuallyEdited); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetLine returns one line, scoped to its document.
func (r *Repository) GetLine(ctx context.Context, documentID, lineID int64) (Line, error) {
	var l Line
	err := r.pool.QueryRow(ctx, `SELECT id, document_id, product_id, description,
counted_qty, max_stock, price, replenish_qty, manually_edited
FROM restock_document_lines WHERE id = $1 AND document_id = $2`, lineID, documentID).
		Scan(&l.ID, &l.DocumentID, &l.ProductID, &l.Description,
			&l.CountedQty, &l.MaxStock, &l.Price, &l.ReplenishQty, &l.ManuallyEdited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, ErrNotFound
		}
		return Line{}, err
	}
	return l, nil
}

// History returns the document's audit entries, oldest first.
func (r *Repository) History(ctx context.Context, documentID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, status, COALESCE(note, ''), actor_id, at
FROM restock_document_history WHERE document_id = $1 ORDER BY at, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var status string
		if err := rows.Scan(&e.ID, &e.DocumentID, &status, &e.Note, &e.ActorID, &e.At); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListFilters narrows document listings.
type ListFilters struct {
	AgreementID int64
	Status      Status
}

// List returns documents matching the filters plus a total count.
func (r *Repository) List(ctx context.Context, filters ListFilters, limit, offset int) ([]Document, int, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+`
FROM restock_documents
WHERE ($1 = 0 OR agreement_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, filters.AgreementID, string(filters.Status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM restock_documents
WHERE ($1 = 0 OR agreement_id = $1) AND ($2 = '' OR status = $2)`,
		filters.AgreementID, string(filters.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (t *txRepository) GetSession(ctx context.Context, sessionID int64) (counting.Session, error) {
	var s counting.Session
	err := t.tx.QueryRow(ctx, `SELECT id, agreement_id, user_id, created_at
FROM counting_sessions WHERE id = $1 FOR UPDATE`, sessionID).
		Scan(&s.ID, &s.AgreementID, &s.UserID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return counting.Session{}, ErrNotFound
		}
		return counting.Session{}, err
	}
	return s, nil
}

func (t *txRepository) GetSessionLines(ctx context.Context, sessionID int64) ([]counting.Line, error) {
	rows, err := t.tx.Query(ctx, `SELECT session_id, product_id, qty
FROM counting_lines WHERE session_id = $1 ORDER BY product_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []counting.Line
	for rows.Next() {
		var l counting.Line
		if err := rows.Scan(&l.SessionID, &l.ProductID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
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

func (t *txRepository) GetAgreement(ctx context.Context, id int64) (agreements.Agreement, error) {
	var a agreements.Agreement
	err := t.tx.QueryRow(ctx, `SELECT id, client_id, name, active, warehouse_id, next_doc_number
FROM consignment_agreements WHERE id = $1`, id).
		Scan(&a.ID, &a.ClientID, &a.Name, &a.Active, &a.WarehouseID, &a.NextDocNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return agreements.Agreement{}, ErrNotFound
		}
		return agreements.Agreement{}, err
	}
	return a, nil
}

func (t *txRepository) GetProductRules(ctx context.Context, agreementID int64) ([]agreements.ProductRule, error) {
	rows, err := t.tx.Query(ctx, `SELECT agreement_id, product_id, max_stock, price, COALESCE(client_code, '')
FROM consignment_product_rules WHERE agreement_id = $1`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []agreements.ProductRule
	for rows.Next() {
		var rule agreements.ProductRule
		if err := rows.Scan(&rule.AgreementID, &rule.ProductID, &rule.MaxStock, &rule.Price, &rule.ClientCode); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// NextDocumentNumber consumes one value from the agreement's sequence with a
// single atomic update, returning the consumed (pre-increment) value.
// Numbers are never reused, even when the document is later canceled.
func (t *txRepository) NextDocumentNumber(ctx context.Context, agreementID int64) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `UPDATE consignment_agreements
SET next_doc_number = next_doc_number + 1
WHERE id = $1
RETURNING next_doc_number - 1`, agreementID).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return next, nil
}

func (t *txRepository) GetDocumentForUpdate(ctx context.Context, id int64) (Document, error) {
	return scanDocument(t.tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM restock_documents WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepository) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO restock_documents
(code, agreement_id, status, created_by, created_at, notes)
VALUES ($1, $2, $3, $4, NOW(), $5)
RETURNING id`, doc.Code, doc.AgreementID, string(doc.Status), doc.CreatedBy, doc.Notes).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateDocument(ctx context.Context, doc Document) error {
	tag, err := t.tx.Exec(ctx, `UPDATE restock_documents SET
status = $2, submitted_by = $3, submitted_at = $4, approved_by = $5, approved_at = $6,
erp_movement_id = $7, erp_invoice_no = $8, delivery_date = $9, notes = $10
WHERE id = $1`,
		doc.ID, string(doc.Status), doc.SubmittedBy, doc.SubmittedAt, doc.ApprovedBy, doc.ApprovedAt,
		doc.ERPMovementID, doc.ERPInvoiceNo, doc.DeliveryDate, doc.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO restock_document_lines
(document_id, product_id, description, counted_qty, max_stock, price, replenish_qty, manually_edited)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		line.DocumentID, line.ProductID, line.Description, line.CountedQty,
		line.MaxStock, line.Price, line.ReplenishQty, line.ManuallyEdited).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateLine(ctx context.Context, line Line) error {
	tag, err := t.tx.Exec(ctx, `UPDATE restock_document_lines SET
max_stock = $3, price = $4, replenish_qty = $5, manually_edited = $6
WHERE id = $1 AND document_id = $2`,
		line.ID, line.DocumentID, line.MaxStock, line.Price, line.ReplenishQty, line.ManuallyEdited)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO restock_document_history
(document_id, status, note, actor_id, at)
VALUES ($1, $2, $3, $4, $5)`,
		entry.DocumentID, string(entry.Status), entry.Note, entry.ActorID, entry.At)
	return err
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var status string
	err := row.Scan(&d.ID, &d.Code, &d.AgreementID, &status, &d.CreatedBy, &d.CreatedAt,
		&d.SubmittedBy, &d.SubmittedAt, &d.ApprovedBy, &d.ApprovedAt,
		&d.ERPMovementID, &d.ERPInvoiceNo, &d.DeliveryDate, &d.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	d.Status = Status(status)
	return d, nil
}
