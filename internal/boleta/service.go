package boleta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/andino-erp/andino-erp/internal/agreements"
	"github.com/andino-erp/andino-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (Document, error)
	GetLines(ctx context.Context, documentID int64) ([]Line, error)
	GetLine(ctx context.Context, documentID, lineID int64) (Line, error)
	History(ctx context.Context, documentID int64) ([]HistoryEntry, error)
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]Document, int, error)
}

// AgreementsPort exposes the read access recomputation needs. It must
// reflect the latest committed rules at call time.
type AgreementsPort interface {
	GetProductRules(ctx context.Context, agreementID int64) ([]agreements.ProductRule, error)
}

// DirectoryPort resolves product descriptions snapshotted onto lines.
type DirectoryPort interface {
	ProductDescription(ctx context.Context, productID int64) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ErrNotOwner indicates the caller does not own the session being finalized.
var ErrNotOwner = errors.New("boleta: not session owner")

// Service owns the restock-document lifecycle: conversion of finished
// counting sessions into documents, the status state machine, line
// recomputation and the audit trail.
type Service struct {
	repo      RepositoryPort
	rules     AgreementsPort
	directory DirectoryPort
	audit     AuditPort
	notifier  NotifierPort
	logger    *slog.Logger
}

// NewService constructs the lifecycle engine.
func NewService(repo RepositoryPort, rules AgreementsPort, directory DirectoryPort, audit AuditPort, notifier NotifierPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, rules: rules, directory: directory, audit: audit, notifier: notifier, logger: logger}
}

// FinalizeSession converts a finished counting session into a restock
// document in one transaction: it loads the session's lines and the
// agreement's current rules, drops counted products without a rule, consumes
// one value from the agreement's sequence, creates the document in REVIEW
// and deletes the session. A session with nothing counted still yields a
// zero-line document; guarding against that belongs to the caller.
func (s *Service) FinalizeSession(ctx context.Context, sessionID, userID int64) (Document, []Line, error) {
	var (
		doc     Document
		created []Line
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.UserID != userID {
			return ErrNotOwner
		}
		counted, err := tx.GetSessionLines(ctx, sessionID)
		if err != nil {
			return err
		}
		agreement, err := tx.GetAgreement(ctx, session.AgreementID)
		if err != nil {
			return err
		}
		rules, err := tx.GetProductRules(ctx, session.AgreementID)
		if err != nil {
			return err
		}
		ruleByProduct := make(map[int64]agreements.ProductRule, len(rules))
		for _, rule := range rules {
			ruleByProduct[rule.ProductID] = rule
		}

		seq, err := tx.NextDocumentNumber(ctx, session.AgreementID)
		if err != nil {
			return err
		}
		now := time.Now()
		doc = Document{
			Code:        FormatCode(agreement.ClientID, seq),
			AgreementID: session.AgreementID,
			Status:      StatusReview,
			CreatedBy:   userID,
			CreatedAt:   now,
		}
		docID, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.ID = docID

		created = created[:0]
		for _, c := range counted {
			rule, ok := ruleByProduct[c.ProductID]
			if !ok {
				// Counted but not part of the agreement; dropped, not an error.
				continue
			}
			line := Line{
				DocumentID:   docID,
				ProductID:    c.ProductID,
				Description:  s.describeProduct(ctx, c.ProductID),
				CountedQty:   c.Qty,
				MaxStock:     rule.MaxStock,
				Price:        rule.Price,
				ReplenishQty: ReplenishQty(rule.MaxStock, c.Qty),
			}
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			created = append(created, line)
		}

		if err := tx.InsertHistory(ctx, HistoryEntry{
			DocumentID: docID,
			Status:     StatusReview,
			Note:       "created from counting session",
			ActorID:    userID,
			At:         now,
		}); err != nil {
			return err
		}
		return tx.DeleteSession(ctx, sessionID)
	})
	if err != nil {
		return Document{}, nil, err
	}
	s.recordAudit(ctx, userID, "BOLETA_CREATE", doc.ID, map[string]any{
		"code":         doc.Code,
		"agreement_id": doc.AgreementID,
		"lines":        len(created),
	})
	return doc, created, nil
}

// TransitionInput describes a requested status change.
type TransitionInput struct {
	DocumentID    int64
	Target        Status
	ActorID       int64
	Notes         string
	ERPMovementID string
	ERPInvoiceNo  string
}

// Transition validates the requested edge against the transition table,
// applies its side effects and appends the history entry, all in one
// transaction. A transition that cannot record its history is not applied.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (Document, error) {
	if !input.Target.IsValid() {
		return Document{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", string(input.Target))}
	}
	var (
		doc      Document
		previous Status
		stamped  time.Time
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, input.DocumentID)
		if err != nil {
			return err
		}
		e, ok := edgeFor(doc.Status, input.Target)
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("no transition from %s to %s", doc.Status, input.Target)}
		}
		if e.NeedsERPMovementID && input.ERPMovementID == "" {
			return &ValidationError{Field: "erp_movement_id", Reason: "required to submit"}
		}
		if e.NeedsERPInvoiceNo && input.ERPInvoiceNo == "" {
			return &ValidationError{Field: "erp_invoice_no", Reason: "required to invoice"}
		}

		now := time.Now()
		stamped = now
		previous = doc.Status
		switch e.Action {
		case "submit":
			doc.SubmittedBy = &input.ActorID
			doc.SubmittedAt = &now
			movementID := input.ERPMovementID
			doc.ERPMovementID = &movementID
		case "approve":
			doc.ApprovedBy = &input.ActorID
			doc.ApprovedAt = &now
		case "invoice":
			invoiceNo := input.ERPInvoiceNo
			doc.ERPInvoiceNo = &invoiceNo
		case "revert":
			doc.ERPInvoiceNo = nil
		}
		doc.Status = input.Target

		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{
			DocumentID: doc.ID,
			Status:     doc.Status,
			Note:       input.Notes,
			ActorID:    input.ActorID,
			At:         now,
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.emitStatusChanged(ctx, doc, previous, input.ActorID, input.Notes, stamped)
	return doc, nil
}

// GetRecomputed is the read path used while a document is editable: lines
// are refreshed against the agreement's current rules and the replenishment
// recomputed, except for manually edited lines, whose stored quantity is
// authoritative until ResetLine. Outside REVIEW/PENDING the stored values
// are returned verbatim; finalized documents do not follow rule drift.
func (s *Service) GetRecomputed(ctx context.Context, documentID int64) (Document, []Line, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return Document{}, nil, err
	}
	lines, err := s.repo.GetLines(ctx, documentID)
	if err != nil {
		return Document{}, nil, err
	}
	if !doc.Status.Editable() {
		return doc, lines, nil
	}
	rules, err := s.rules.GetProductRules(ctx, doc.AgreementID)
	if err != nil {
		return Document{}, nil, err
	}
	ruleByProduct := make(map[int64]agreements.ProductRule, len(rules))
	for _, rule := range rules {
		ruleByProduct[rule.ProductID] = rule
	}
	for i := range lines {
		rule, ok := ruleByProduct[lines[i].ProductID]
		if !ok {
			// Rule removed since finalization; keep the stale snapshot.
			continue
		}
		lines[i].MaxStock = rule.MaxStock
		lines[i].Price = rule.Price
		if !lines[i].ManuallyEdited {
			lines[i].ReplenishQty = ReplenishQty(rule.MaxStock, lines[i].CountedQty)
		}
	}
	return doc, lines, nil
}

// EditLine overrides a line's replenishment quantity and marks it manually
// edited, which suppresses recomputation for that line.
func (s *Service) EditLine(ctx context.Context, documentID, lineID int64, replenishQty float64) (Line, error) {
	if replenishQty < 0 {
		return Line{}, &ValidationError{Field: "replenish_qty", Reason: "must not be negative"}
	}
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return Line{}, err
	}
	if !doc.Status.Editable() {
		return Line{}, &ValidationError{Reason: fmt.Sprintf("document in status %s is not editable", doc.Status)}
	}
	line, err := s.repo.GetLine(ctx, documentID, lineID)
	if err != nil {
		return Line{}, err
	}
	line.ReplenishQty = replenishQty
	line.ManuallyEdited = true
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateLine(ctx, line)
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// ResetLine recomputes the line from the agreement's current rule and clears
// the manual-override flag. A missing rule recomputes from the stored
// snapshot instead.
func (s *Service) ResetLine(ctx context.Context, documentID, lineID int64) (Line, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return Line{}, err
	}
	if !doc.Status.Editable() {
		return Line{}, &ValidationError{Reason: fmt.Sprintf("document in status %s is not editable", doc.Status)}
	}
	line, err := s.repo.GetLine(ctx, documentID, lineID)
	if err != nil {
		return Line{}, err
	}
	rules, err := s.rules.GetProductRules(ctx, doc.AgreementID)
	if err != nil {
		return Line{}, err
	}
	for _, rule := range rules {
		if rule.ProductID == line.ProductID {
			line.MaxStock = rule.MaxStock
			line.Price = rule.Price
			break
		}
	}
	line.ReplenishQty = ReplenishQty(line.MaxStock, line.CountedQty)
	line.ManuallyEdited = false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateLine(ctx, line)
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// LineEdit carries one line's pending changes for SaveDocument. Nil fields
// keep their stored values.
type LineEdit struct {
	LineID         int64
	ReplenishQty   *float64
	MaxStock       *float64
	Price          *float64
	ManuallyEdited *bool
}

// SaveInput describes a bulk document save.
type SaveInput struct {
	DocumentID   int64
	ActorID      int64
	Notes        string
	DeliveryDate *time.Time
	Lines        []LineEdit
}

// SaveDocument persists notes, delivery date and line edits in one
// transaction followed by a single history entry describing the bulk edit.
// Concurrent saves against the same document are last-write-wins at the line
// level; editing is permission-gated and single-actor in practice.
func (s *Service) SaveDocument(ctx context.Context, input SaveInput) error {
	for _, edit := range input.Lines {
		if edit.ReplenishQty != nil && *edit.ReplenishQty < 0 {
			return &ValidationError{Field: "replenish_qty", Reason: "must not be negative"}
		}
	}
	current, err := s.repo.GetLines(ctx, input.DocumentID)
	if err != nil {
		return err
	}
	lineByID := make(map[int64]Line, len(current))
	for _, l := range current {
		lineByID[l.ID] = l
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, input.DocumentID)
		if err != nil {
			return err
		}
		if !doc.Status.Editable() {
			return &ValidationError{Reason: fmt.Sprintf("document in status %s is not editable", doc.Status)}
		}
		doc.Notes = input.Notes
		if input.DeliveryDate != nil {
			doc.DeliveryDate = input.DeliveryDate
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		for _, edit := range input.Lines {
			line, ok := lineByID[edit.LineID]
			if !ok {
				return ErrNotFound
			}
			if edit.ReplenishQty != nil {
				line.ReplenishQty = *edit.ReplenishQty
			}
			if edit.MaxStock != nil {
				line.MaxStock = *edit.MaxStock
			}
			if edit.Price != nil {
				line.Price = *edit.Price
			}
			if edit.ManuallyEdited != nil {
				line.ManuallyEdited = *edit.ManuallyEdited
			}
			if err := tx.UpdateLine(ctx, line); err != nil {
				return err
			}
		}
		return tx.InsertHistory(ctx, HistoryEntry{
			DocumentID: doc.ID,
			Status:     doc.Status,
			Note:       "bulk edit",
			ActorID:    input.ActorID,
			At:         time.Now(),
		})
	})
}

// History returns the document's append-only audit entries, oldest first.
func (s *Service) History(ctx context.Context, documentID int64) ([]HistoryEntry, error) {
	if _, err := s.repo.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, documentID)
}

// List returns documents matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters, limit, offset int) ([]Document, int, error) {
	return s.repo.List(ctx, filters, limit, offset)
}

func (s *Service) describeProduct(ctx context.Context, productID int64) string {
	if s.directory == nil {
		return ""
	}
	desc, err := s.directory.ProductDescription(ctx, productID)
	if err != nil {
		s.logger.Warn("resolve product description", slog.Int64("product_id", productID), slog.Any("error", err))
		return ""
	}
	return desc
}

func (s *Service) emitStatusChanged(ctx context.Context, doc Document, previous Status, actorID int64, notes string, at time.Time) {
	s.recordAudit(ctx, actorID, "BOLETA_"+string(doc.Status), doc.ID, map[string]any{
		"code": doc.Code,
		"from": string(previous),
		"to":   string(doc.Status),
	})
	if s.notifier == nil {
		return
	}
	evt := StatusChangedEvent{
		DocumentID:  doc.ID,
		Code:        doc.Code,
		AgreementID: doc.AgreementID,
		Previous:    previous,
		Status:      doc.Status,
		ActorID:     actorID,
		CreatedBy:   doc.CreatedBy,
		Notes:       notes,
		At:          at,
	}
	if err := s.notifier.DocumentStatusChanged(ctx, evt); err != nil {
		s.logger.Warn("notify status change", slog.String("code", doc.Code), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, documentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "restock_document",
		EntityID: strconv.FormatInt(documentID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("record audit", slog.Any("error", err))
	}
}
