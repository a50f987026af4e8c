package ledger

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"main/pkg/exception"
)

// Repository is the ledger access contract. The executor is the single
// active writer; reads outside the executor happen only through its own
// recovery pass.
type Repository interface {
	// Create durably inserts a PENDING record. It returns false without
	// error when the client order id is already recorded, which makes
	// order processing idempotent under redelivery.
	Create(ctx context.Context, rec *TradeRecord) (bool, error)

	// Resolve moves a PENDING record to a terminal status. Records already
	// terminal are left untouched and ErrRecordNotPending is returned.
	Resolve(ctx context.Context, clientOrderID string, status Status, brokerOrderID, lastError string) error

	// Pending lists every record still awaiting resolution.
	Pending(ctx context.Context) ([]TradeRecord, error)

	// Find fetches a record by client order id.
	Find(ctx context.Context, clientOrderID string) (*TradeRecord, bool, error)
}

// PostgresRepository implements Repository on gorm.
type PostgresRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostgresRepository wraps a gorm connection.
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Migrate ensures the trades table exists. Safe to run on every startup.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return errors.Wrap(err, "migrate trades table")
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec *TradeRecord) (bool, error) {
	if rec == nil {
		return false, exception.ErrNilInstance
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}

	err := r.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) || stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return false, errors.Wrap(exception.ErrLedgerWrite, err.Error())
}

func (r *PostgresRepository) Resolve(ctx context.Context, clientOrderID string, status Status, brokerOrderID, lastError string) error {
	if !status.IsTerminal() {
		return errors.Wrapf(exception.ErrInvalidArgument, "non-terminal status %q", status)
	}

	resolvedAt := r.now().UTC()
	updates := map[string]any{
		"status":      status,
		"resolved_at": &resolvedAt,
	}
	if brokerOrderID != "" {
		updates["broker_order_id"] = &brokerOrderID
	}
	if lastError != "" {
		updates["last_error"] = &lastError
	}

	// The status guard enforces terminal monotonicity at the SQL level:
	// a second resolution matches zero rows instead of overwriting.
	res := r.db.WithContext(ctx).
		Model(&TradeRecord{}).
		Where("client_order_id = ? AND status = ?", clientOrderID, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrap(exception.ErrLedgerWrite, res.Error.Error())
	}
	if res.RowsAffected > 0 {
		return nil
	}

	existing, found, err := r.Find(ctx, clientOrderID)
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(exception.ErrRecordNotFound, "client order id %s", clientOrderID)
	}
	return errors.Wrapf(exception.ErrRecordNotPending, "client order id %s already %s", clientOrderID, existing.Status)
}

func (r *PostgresRepository) Pending(ctx context.Context) ([]TradeRecord, error) {
	var records []TradeRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "list pending trades")
	}
	return records, nil
}

func (r *PostgresRepository) Find(ctx context.Context, clientOrderID string) (*TradeRecord, bool, error) {
	var rec TradeRecord
	err := r.db.WithContext(ctx).
		Where("client_order_id = ?", clientOrderID).
		First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "find trade record")
	}
	return &rec, true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PostgresRepository)(nil)
