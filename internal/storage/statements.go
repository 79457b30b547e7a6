package storage

import (
	"database/sql"
	"fmt"
)

func (s *MySql) prepareStmt(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *MySql) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}

func (s *MySql) stmtSelectEntitlement() (*sql.Stmt, error) {
	query := `SELECT user_id, username, level, effective_since
                FROM entitlements
               WHERE user_id = ?`
	return s.prepareStmt("selectEntitlement", query)
}

func (s *MySql) stmtInsertEntitlement() (*sql.Stmt, error) {
	query := `INSERT INTO entitlements (user_id, username, level, effective_since)
              VALUES (?, ?, ?, ?)`
	return s.prepareStmt("insertEntitlement", query)
}

func (s *MySql) stmtUpdateLevelMonotonic() (*sql.Stmt, error) {
	query := `UPDATE entitlements SET
                   level = ?,
                   effective_since = ?
               WHERE user_id = ?
                 AND effective_since < ?`
	return s.prepareStmt("updateLevelMonotonic", query)
}

func (s *MySql) stmtSelectStale() (*sql.Stmt, error) {
	query := `SELECT user_id, username, level, effective_since
                FROM entitlements
               WHERE level = ?
                 AND effective_since <= ?`
	return s.prepareStmt("selectStale", query)
}

func (s *MySql) stmtDemote() (*sql.Stmt, error) {
	query := `UPDATE entitlements SET
                   level = ?,
                   effective_since = ?
               WHERE user_id = ?
                 AND level = ?
                 AND effective_since <= ?`
	return s.prepareStmt("demote", query)
}

func (s *MySql) stmtInsertPurchase() (*sql.Stmt, error) {
	query := `INSERT INTO purchases (user_id, invoice_id, created_at)
              VALUES (?, ?, ?)`
	return s.prepareStmt("insertPurchase", query)
}

func (s *MySql) stmtSelectRecentPurchases() (*sql.Stmt, error) {
	query := `SELECT invoice_id
                FROM purchases
               WHERE user_id = ?
                 AND created_at >= ?
               ORDER BY id DESC`
	return s.prepareStmt("selectRecentPurchases", query)
}

func (s *MySql) stmtSelectUserByInvoice() (*sql.Stmt, error) {
	query := `SELECT user_id
                FROM purchases
               WHERE invoice_id = ?`
	return s.prepareStmt("selectUserByInvoice", query)
}

func (s *MySql) stmtSelectClient() (*sql.Stmt, error) {
	query := `SELECT token, name, created_at
                FROM api_clients
               WHERE token = ?`
	return s.prepareStmt("selectClient", query)
}
