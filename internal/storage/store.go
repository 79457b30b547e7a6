package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"clanity/entity"
	"clanity/internal/config"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict means a conditional write lost the monotonic
	// effective-date race. Callers treat it as success-no-op.
	ErrConflict = errors.New("storage: stale write")
)

type MySql struct {
	db         *sql.DB
	statements map[string]*sql.Stmt
	mu         sync.Mutex
}

func NewSQLClient(conf *config.Config) (*MySql, error) {
	connectionURI := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		conf.MySql.UserName, conf.MySql.Password, conf.MySql.HostName, conf.MySql.Port, conf.MySql.Database)
	db, err := sql.Open("mysql", connectionURI)
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// try to ping three times with a 30-second interval; wait for a database to start
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(30 * time.Second)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	sdb := &MySql{
		db:         db,
		statements: make(map[string]*sql.Stmt),
	}

	if err = sdb.ensureTables(); err != nil {
		return nil, err
	}

	return sdb, nil
}

func (s *MySql) Close() {
	s.closeStmt()
	_ = s.db.Close()
}

// GetEntitlement reads a user's current level without touching the
// provider. Unknown users yield ErrNotFound; callers report the default
// unsubscribed tier in that case.
func (s *MySql) GetEntitlement(ctx context.Context, userId int64) (*entity.Entitlement, error) {
	stmt, err := s.stmtSelectEntitlement()
	if err != nil {
		return nil, err
	}
	var e entity.Entitlement
	err = stmt.QueryRowContext(ctx, userId).Scan(
		&e.UserId,
		&e.Username,
		&e.Level,
		&e.EffectiveSince,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select entitlement: %w", err)
	}
	e.EffectiveSince = e.EffectiveSince.UTC()
	return &e, nil
}

// EnsureEntitlement creates the first-contact record (trial level) when the
// user is unknown and returns the stored row either way.
func (s *MySql) EnsureEntitlement(ctx context.Context, userId int64, username string, now time.Time) (*entity.Entitlement, error) {
	e, err := s.GetEntitlement(ctx, userId)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	stmt, err := s.stmtInsertEntitlement()
	if err != nil {
		return nil, err
	}
	fresh := entity.NewEntitlement(userId, username, now.UTC())
	if _, err = stmt.ExecContext(ctx, fresh.UserId, fresh.Username, fresh.Level, fresh.EffectiveSince); err != nil {
		// a concurrent first contact may have inserted the row already
		if existing, gerr := s.GetEntitlement(ctx, userId); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert entitlement: %w", err)
	}
	return fresh, nil
}

// ApplyLevel replaces a user's level and effective date in one write,
// guarded by the monotonic rule: the write only lands when the stored
// effective date is strictly older than the candidate. A lost race returns
// ErrConflict with the row untouched; an unknown user gets a fresh row.
// Returns the previous entitlement (nil when the row was created).
func (s *MySql) ApplyLevel(ctx context.Context, userId int64, level entity.Tier, since time.Time) (*entity.Entitlement, error) {
	since = since.UTC()
	prev, err := s.GetEntitlement(ctx, userId)
	if errors.Is(err, ErrNotFound) {
		stmt, err := s.stmtInsertEntitlement()
		if err != nil {
			return nil, err
		}
		if _, err = stmt.ExecContext(ctx, userId, "", level, since); err != nil {
			return nil, fmt.Errorf("insert entitlement: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !prev.EffectiveSince.Before(since) {
		return prev, ErrConflict
	}
	stmt, err := s.stmtUpdateLevelMonotonic()
	if err != nil {
		return nil, err
	}
	res, err := stmt.ExecContext(ctx, level, since, userId, since)
	if err != nil {
		return nil, fmt.Errorf("update entitlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// another writer landed a newer effective date in between
		return prev, ErrConflict
	}
	return prev, nil
}

// ListStale returns users at the given level whose effective date is at or
// before the cutoff, excluding exempt ids.
func (s *MySql) ListStale(ctx context.Context, level entity.Tier, cutoff time.Time, exempt []int64) ([]*entity.Entitlement, error) {
	stmt, err := s.stmtSelectStale()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, level, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("select stale: %w", err)
	}
	defer rows.Close()

	skip := make(map[int64]bool, len(exempt))
	for _, id := range exempt {
		skip[id] = true
	}

	var out []*entity.Entitlement
	for rows.Next() {
		var e entity.Entitlement
		if err = rows.Scan(&e.UserId, &e.Username, &e.Level, &e.EffectiveSince); err != nil {
			return nil, err
		}
		if skip[e.UserId] {
			continue
		}
		e.EffectiveSince = e.EffectiveSince.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Demote moves one user to the fallback level with a fresh effective date.
// The write is conditional on the row still being at the expired level with
// the same stale date, so re-running a sweep never double-demotes.
func (s *MySql) Demote(ctx context.Context, userId int64, from entity.Tier, cutoff, now time.Time) (bool, error) {
	stmt, err := s.stmtDemote()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, from.Fallback(), now.UTC(), userId, from, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("demote: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordPurchase appends one ledger entry. The ledger is append-only:
// entries are never mutated or deleted.
func (s *MySql) RecordPurchase(ctx context.Context, p *entity.Purchase) error {
	stmt, err := s.stmtInsertPurchase()
	if err != nil {
		return err
	}
	if _, err = stmt.ExecContext(ctx, p.UserId, p.InvoiceId, p.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// RecentPurchases returns invoice ids recorded for the user at or after
// the given instant, most recent first.
func (s *MySql) RecentPurchases(ctx context.Context, userId int64, since time.Time) ([]string, error) {
	stmt, err := s.stmtSelectRecentPurchases()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, userId, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var invoices []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		invoices = append(invoices, id)
	}
	return invoices, rows.Err()
}

// UserByInvoice resolves a ledger entry back to its user.
func (s *MySql) UserByInvoice(ctx context.Context, invoiceId string) (int64, error) {
	stmt, err := s.stmtSelectUserByInvoice()
	if err != nil {
		return 0, err
	}
	var userId int64
	err = stmt.QueryRowContext(ctx, invoiceId).Scan(&userId)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select user by invoice: %w", err)
	}
	return userId, nil
}

// ClientByToken authenticates an API consumer.
func (s *MySql) ClientByToken(ctx context.Context, token string) (*entity.Client, error) {
	stmt, err := s.stmtSelectClient()
	if err != nil {
		return nil, err
	}
	var c entity.Client
	err = stmt.QueryRowContext(ctx, token).Scan(&c.Token, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select client: %w", err)
	}
	return &c, nil
}
