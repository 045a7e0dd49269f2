package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

//go:embed schema.sql
var schemaSQL string

// MySQLAdapter is the system of record. Every atomic unit from the service
// layer maps to one SQL transaction here; audit rows are written inside that
// transaction so an aborted unit leaves no audit residue.
type MySQLAdapter struct {
	db *sql.DB
}

var (
	_ port.InventoryStore = (*MySQLAdapter)(nil)
	_ port.RequestLedger  = (*MySQLAdapter)(nil)
	_ port.AuditLog       = (*MySQLAdapter)(nil)
)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// mapSQLError folds driver errors into the domain taxonomy. InnoDB deadlocks
// and duplicate-key races are transient and retried by the caller; a blown
// deadline means the unit never committed.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1213, 1062: // deadlock, duplicate key
			return domain.ErrConflict
		case 1205: // lock wait timeout
			return domain.ErrTimeout
		}
	}
	return err
}

// creditStock upserts a record on its identity-derived primary key. The
// weighted-average cost is computed in SQL against the locked current row, so
// lookup, create-if-absent and update are one atomic statement.
func creditStock(ctx context.Context, tx *sql.Tx, site string, item domain.ItemIdentity, qty, cost decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_records (site, item_key, item_name, item_unit, quantity, unit_cost, min_level, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, UTC_TIMESTAMP(6))
		ON DUPLICATE KEY UPDATE
			unit_cost = IF(quantity + ? = 0, unit_cost,
				ROUND((quantity * unit_cost + ? * ?) / (quantity + ?), 4)),
			quantity = quantity + ?,
			updated_at = UTC_TIMESTAMP(6)`,
		site, item.Key(), item.Name, item.Unit, qty, cost,
		qty, qty, cost, qty, qty,
	)
	if err != nil {
		return fmt.Errorf("credit stock: %w", err)
	}
	return nil
}

// debitStock decrements a record, refusing to go below zero. The availability
// check and the write are one conditional statement, re-verified at commit
// time regardless of what the caller read earlier.
func debitStock(ctx context.Context, tx *sql.Tx, site string, item domain.ItemIdentity, qty decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE inventory_records
		SET quantity = quantity - ?, updated_at = UTC_TIMESTAMP(6)
		WHERE site = ? AND item_key = ? AND quantity >= ?`,
		qty, site, item.Key(), qty,
	)
	if err != nil {
		return fmt.Errorf("debit stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM inventory_records WHERE site = ? AND item_key = ?`,
			site, item.Key(),
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		if err != nil {
			return fmt.Errorf("debit stock: %w", err)
		}
		return domain.ErrInsufficientStock
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func selectRecord(ctx context.Context, q rowQuerier, site string, item domain.ItemIdentity) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := q.QueryRowContext(ctx, `
		SELECT site, item_name, item_unit, quantity, unit_cost, min_level, updated_at
		FROM inventory_records WHERE site = ? AND item_key = ?`,
		site, item.Key(),
	).Scan(&rec.Site, &rec.Item.Name, &rec.Item.Unit, &rec.Quantity, &rec.UnitCost, &rec.MinLevel, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return &rec, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, entry domain.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, kind, site, item_key, item_name, item_unit, quantity_delta, actor, transfer_id, request_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Kind, entry.Site, entry.Item.Key(), entry.Item.Name, entry.Item.Unit,
		entry.QuantityDelta, entry.Actor, entry.TransferID, entry.RequestID, entry.Description,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Get(ctx context.Context, site string, item domain.ItemIdentity) (*domain.InventoryRecord, error) {
	rec, err := selectRecord(ctx, m.db, site, item)
	return rec, mapSQLError(err)
}

func (m *MySQLAdapter) ApplyDelta(ctx context.Context, site string, item domain.ItemIdentity, delta, costHint decimal.Decimal, entry domain.AuditEntry) (*domain.InventoryRecord, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if delta.IsPositive() {
		err = creditStock(ctx, tx, site, item, delta, costHint)
	} else {
		err = debitStock(ctx, tx, site, item, delta.Neg())
	}
	if err != nil {
		return nil, mapSQLError(err)
	}

	if err := insertAudit(ctx, tx, entry); err != nil {
		return nil, mapSQLError(err)
	}

	rec, err := selectRecord(ctx, tx, site, item)
	if err != nil {
		return nil, mapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLError(fmt.Errorf("commit: %w", err))
	}
	return rec, nil
}

func (m *MySQLAdapter) Transfer(ctx context.Context, intent domain.TransferIntent, actor string) (*domain.TransferResult, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	// Lock the source row and re-verify availability at commit time; the
	// caller's earlier read may be stale.
	var srcQty, srcCost decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT quantity, unit_cost FROM inventory_records
		WHERE site = ? AND item_key = ? FOR UPDATE`,
		intent.SourceSite, intent.Item.Key(),
	).Scan(&srcQty, &srcCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, mapSQLError(fmt.Errorf("lock source: %w", err))
	}
	if srcQty.LessThan(intent.Quantity) {
		return nil, domain.ErrInsufficientStock
	}

	if err := debitStock(ctx, tx, intent.SourceSite, intent.Item, intent.Quantity); err != nil {
		return nil, mapSQLError(err)
	}
	// Transferred stock carries the source's unit cost into the
	// destination's weighted average.
	if err := creditStock(ctx, tx, intent.DestSite, intent.Item, intent.Quantity, srcCost); err != nil {
		return nil, mapSQLError(err)
	}

	transferID := uuid.NewString()
	out := domain.NewAuditEntry(domain.AuditTransferOut, intent.SourceSite, intent.Item, intent.Quantity.Neg(), actor,
		"transfer out: "+intent.Quantity.String()+" "+intent.Item.String()+" to "+intent.DestSite)
	out.TransferID = transferID
	in := domain.NewAuditEntry(domain.AuditTransferIn, intent.DestSite, intent.Item, intent.Quantity, actor,
		"transfer in: "+intent.Quantity.String()+" "+intent.Item.String()+" from "+intent.SourceSite)
	in.TransferID = transferID
	if err := insertAudit(ctx, tx, out); err != nil {
		return nil, mapSQLError(err)
	}
	if err := insertAudit(ctx, tx, in); err != nil {
		return nil, mapSQLError(err)
	}

	src, err := selectRecord(ctx, tx, intent.SourceSite, intent.Item)
	if err != nil {
		return nil, mapSQLError(err)
	}
	dst, err := selectRecord(ctx, tx, intent.DestSite, intent.Item)
	if err != nil {
		return nil, mapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLError(fmt.Errorf("commit: %w", err))
	}
	return &domain.TransferResult{TransferID: transferID, Source: *src, Dest: *dst}, nil
}

func (m *MySQLAdapter) SetMinLevel(ctx context.Context, site string, item domain.ItemIdentity, level decimal.Decimal) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_records SET min_level = ?, updated_at = UTC_TIMESTAMP(6)
		WHERE site = ? AND item_key = ?`,
		level, site, item.Key(),
	)
	if err != nil {
		return mapSQLError(fmt.Errorf("set min level: %w", err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if rec, err := selectRecord(ctx, m.db, site, item); err != nil {
			return mapSQLError(err)
		} else if rec == nil {
			return domain.ErrItemNotFound
		}
	}
	return nil
}

func (m *MySQLAdapter) ListSite(ctx context.Context, site string) ([]domain.InventoryRecord, error) {
	return m.listRecords(ctx, `
		SELECT site, item_name, item_unit, quantity, unit_cost, min_level, updated_at
		FROM inventory_records WHERE site = ? ORDER BY item_key`, site)
}

func (m *MySQLAdapter) ListAll(ctx context.Context) ([]domain.InventoryRecord, error) {
	return m.listRecords(ctx, `
		SELECT site, item_name, item_unit, quantity, unit_cost, min_level, updated_at
		FROM inventory_records ORDER BY site, item_key`)
}

func (m *MySQLAdapter) listRecords(ctx context.Context, query string, args ...any) ([]domain.InventoryRecord, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(fmt.Errorf("list records: %w", err))
	}
	defer rows.Close()

	var out []domain.InventoryRecord
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.Site, &rec.Item.Name, &rec.Item.Unit, &rec.Quantity, &rec.UnitCost, &rec.MinLevel, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) CreateRequest(ctx context.Context, req domain.MaterialRequest) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO material_requests (id, site, item_key, item_name, item_unit, quantity, task_id, state, requested_by, approved_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Site, req.Item.Key(), req.Item.Name, req.Item.Unit, req.Quantity,
		req.TaskID, req.State, req.RequestedBy, req.ApprovedBy,
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapSQLError(fmt.Errorf("insert request: %w", err))
	}
	return nil
}

const requestColumns = `id, site, item_name, item_unit, quantity, task_id, state, requested_by, approved_by, created_at, updated_at`

func scanRequest(row *sql.Row) (*domain.MaterialRequest, error) {
	var req domain.MaterialRequest
	err := row.Scan(&req.ID, &req.Site, &req.Item.Name, &req.Item.Unit, &req.Quantity,
		&req.TaskID, &req.State, &req.RequestedBy, &req.ApprovedBy, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	return &req, nil
}

func (m *MySQLAdapter) GetRequest(ctx context.Context, id string) (*domain.MaterialRequest, error) {
	req, err := scanRequest(m.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM material_requests WHERE id = ?`, id))
	if err != nil {
		return nil, mapSQLError(err)
	}
	return req, nil
}

func (m *MySQLAdapter) ListOpen(ctx context.Context, site string, item domain.ItemIdentity) ([]domain.MaterialRequest, error) {
	return m.listRequests(ctx, `
		SELECT `+requestColumns+` FROM material_requests
		WHERE site = ? AND item_key = ? AND state IN ('requested', 'ordered')
		ORDER BY created_at ASC, id ASC`, site, item.Key())
}

func (m *MySQLAdapter) ListSiteRequests(ctx context.Context, site string) ([]domain.MaterialRequest, error) {
	return m.listRequests(ctx, `
		SELECT `+requestColumns+` FROM material_requests
		WHERE site = ? ORDER BY created_at DESC, id DESC`, site)
}

func (m *MySQLAdapter) listRequests(ctx context.Context, query string, args ...any) ([]domain.MaterialRequest, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(fmt.Errorf("list requests: %w", err))
	}
	defer rows.Close()

	var out []domain.MaterialRequest
	for rows.Next() {
		var req domain.MaterialRequest
		if err := rows.Scan(&req.ID, &req.Site, &req.Item.Name, &req.Item.Unit, &req.Quantity,
			&req.TaskID, &req.State, &req.RequestedBy, &req.ApprovedBy, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// lockRequest reads a request row under FOR UPDATE so the state guard and the
// subsequent write happen against the same committed state.
func lockRequest(ctx context.Context, tx *sql.Tx, id string) (*domain.MaterialRequest, error) {
	return scanRequest(tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM material_requests WHERE id = ? FOR UPDATE`, id))
}

func writeRequestState(ctx context.Context, tx *sql.Tx, req *domain.MaterialRequest, next domain.RequestState, actor string) error {
	req.State = next
	if next == domain.RequestStateOrdered {
		req.ApprovedBy = actor
	}
	req.UpdatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE material_requests SET state = ?, approved_by = ?, updated_at = ? WHERE id = ?`,
		req.State, req.ApprovedBy, req.UpdatedAt, req.ID,
	)
	if err != nil {
		return fmt.Errorf("update request state: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Transition(ctx context.Context, id string, next domain.RequestState, actor string) (*domain.MaterialRequest, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	req, err := lockRequest(ctx, tx, id)
	if err != nil {
		return nil, mapSQLError(err)
	}
	if !req.State.CanTransitionTo(next) {
		return nil, domain.ErrInvalidTransition
	}
	if err := writeRequestState(ctx, tx, req, next, actor); err != nil {
		return nil, mapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLError(fmt.Errorf("commit: %w", err))
	}
	return req, nil
}

func (m *MySQLAdapter) MarkReceived(ctx context.Context, id string, unitCost decimal.Decimal, actor string) (*domain.MaterialRequest, *domain.InventoryRecord, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, mapSQLError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	req, err := lockRequest(ctx, tx, id)
	if err != nil {
		return nil, nil, mapSQLError(err)
	}
	if !req.State.CanTransitionTo(domain.RequestStateReceived) {
		return nil, nil, domain.ErrInvalidTransition
	}

	if err := creditStock(ctx, tx, req.Site, req.Item, req.Quantity, unitCost); err != nil {
		return nil, nil, mapSQLError(err)
	}

	entry := domain.NewAuditEntry(domain.AuditRequestReceived, req.Site, req.Item, req.Quantity, actor,
		"request received: "+req.Quantity.String()+" "+req.Item.String())
	entry.RequestID = req.ID
	if err := insertAudit(ctx, tx, entry); err != nil {
		return nil, nil, mapSQLError(err)
	}

	if err := writeRequestState(ctx, tx, req, domain.RequestStateReceived, actor); err != nil {
		return nil, nil, mapSQLError(err)
	}

	rec, err := selectRecord(ctx, tx, req.Site, req.Item)
	if err != nil {
		return nil, nil, mapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, mapSQLError(fmt.Errorf("commit: %w", err))
	}
	return req, rec, nil
}

func (m *MySQLAdapter) Append(ctx context.Context, entry domain.AuditEntry) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := insertAudit(ctx, tx, entry); err != nil {
		return mapSQLError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapSQLError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (m *MySQLAdapter) Recent(ctx context.Context, site string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, site, item_name, item_unit, quantity_delta, actor, transfer_id, request_id, description, created_at
		FROM audit_entries`
	args := []any{}
	if site != "" {
		query += ` WHERE site = ?`
		args = append(args, site)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(fmt.Errorf("list audit entries: %w", err))
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Site, &e.Item.Name, &e.Item.Unit, &e.QuantityDelta,
			&e.Actor, &e.TransferID, &e.RequestID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
