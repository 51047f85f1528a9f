package agreements

import "errors"

// Agreement is a consignment contract with one client. NextDocNumber is the
// per-agreement boleta sequence; it only ever moves forward and is consumed
// by the boleta engine inside the document-creation transaction.
type Agreement struct {
	ID            int64
	ClientID      string
	Name          string
	Active        bool
	WarehouseID   int64
	NextDocNumber int64
}

// ProductRule defines, per agreement and product, the stock ceiling the
// client site should be replenished to, the agreed price, and an optional
// client-facing product code.
type ProductRule struct {
	AgreementID int64
	ProductID   int64
	MaxStock    float64
	Price       float64
	ClientCode  string
}

var (
	// ErrNotFound indicates the agreement does not exist.
	ErrNotFound = errors.New("agreements: not found")
)
