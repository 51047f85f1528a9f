package agreements

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed read access to agreements and their
// product rules. Mutation of agreements happens in the surrounding
// agreement-management screens, outside this subsystem.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetAgreement returns a single agreement.
func (r *Repository) GetAgreement(ctx context.Context, id int64) (Agreement, error) {
	var a Agreement
	err := r.pool.QueryRow(ctx, `SELECT id, client_id, name, active, warehouse_id, next_doc_number
FROM consignment_agreements WHERE id = $1`, id).
		Scan(&a.ID, &a.ClientID, &a.Name, &a.Active, &a.WarehouseID, &a.NextDocNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, err
	}
	return a, nil
}

// GetProductRules returns the agreement's current product rules. Callers see
// the latest committed rules at call time; the boleta recomputation path
// depends on that.
func (r *Repository) GetProductRules(ctx context.Context, agreementID int64) ([]ProductRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT agreement_id, product_id, max_stock, price, COALESCE(client_code, '')
FROM consignment_product_rules WHERE agreement_id = $1 ORDER BY product_id`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []ProductRule
	for rows.Next() {
		var rule ProductRule
		if err := rows.Scan(&rule.AgreementID, &rule.ProductID, &rule.MaxStock, &rule.Price, &rule.ClientCode); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// List returns agreements, optionally filtered to active ones.
func (r *Repository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]Agreement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, client_id, name, active, warehouse_id, next_doc_number
FROM consignment_agreements
WHERE ($1 = false OR active)
ORDER BY client_id
LIMIT $2 OFFSET $3`, activeOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Agreement
	for rows.Next() {
		var a Agreement
		if err := rows.Scan(&a.ID, &a.ClientID, &a.Name, &a.Active, &a.WarehouseID, &a.NextDocNumber); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
