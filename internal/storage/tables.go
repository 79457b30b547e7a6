package storage

import "fmt"

// ensureTables bootstraps the schema on startup. Column layout is an
// implementation detail; the load-bearing semantics are one entitlement row
// per user, an append-only purchase ledger keyed by invoice id, and a
// non-negative activation count per promocode.
func (s *MySql) ensureTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS entitlements (
            user_id         BIGINT       NOT NULL,
            username        VARCHAR(64)  NOT NULL DEFAULT '',
            level           VARCHAR(32)  NOT NULL,
            effective_since DATETIME     NOT NULL,
            PRIMARY KEY (user_id),
            KEY idx_level_since (level, effective_since)
        )`,
		`CREATE TABLE IF NOT EXISTS purchases (
            id         BIGINT       NOT NULL AUTO_INCREMENT,
            user_id    BIGINT       NOT NULL,
            invoice_id VARCHAR(128) NOT NULL,
            created_at DATETIME     NOT NULL,
            PRIMARY KEY (id),
            UNIQUE KEY uq_invoice (invoice_id),
            KEY idx_user_created (user_id, created_at)
        )`,
		`CREATE TABLE IF NOT EXISTS promocodes (
            code        VARCHAR(64) NOT NULL,
            activations INT         NOT NULL,
            created_at  DATETIME    NOT NULL,
            PRIMARY KEY (code),
            CONSTRAINT chk_activations CHECK (activations >= 0)
        )`,
		`CREATE TABLE IF NOT EXISTS api_clients (
            token      VARCHAR(64) NOT NULL,
            name       VARCHAR(64) NOT NULL,
            created_at DATETIME    NOT NULL,
            PRIMARY KEY (token)
        )`,
	}
	for _, ddl := range tables {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}
