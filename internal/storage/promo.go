package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clanity/entity"
)

// RedeemPromo performs the whole redemption as one transaction: the
// activation check, the decrement and the entitlement grant either all
// land or none do. The code row is locked for the duration, so two
// concurrent redemptions of the last activation yield exactly one grant.
func (s *MySql) RedeemPromo(ctx context.Context, userId int64, username, code string, now time.Time) (entity.RedeemResult, error) {
	now = now.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var activations int
	err = tx.QueryRowContext(ctx,
		`SELECT activations FROM promocodes WHERE code = ? FOR UPDATE`, code,
	).Scan(&activations)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.RedeemNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("select promocode: %w", err)
	}

	var level entity.Tier
	err = tx.QueryRowContext(ctx,
		`SELECT level FROM entitlements WHERE user_id = ? FOR UPDATE`, userId,
	).Scan(&level)
	userKnown := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("select entitlement: %w", err)
	}

	// redeeming any code while already at the promo tier leaves every
	// activation count untouched
	if userKnown && level == entity.TierPromo {
		return entity.RedeemAlreadyHasPromo, nil
	}

	if activations == 0 {
		return entity.RedeemExhausted, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE promocodes SET activations = activations - 1
          WHERE code = ? AND activations > 0`, code)
	if err != nil {
		return "", fmt.Errorf("decrement promocode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return entity.RedeemExhausted, nil
	}

	if userKnown {
		if _, err = tx.ExecContext(ctx,
			`UPDATE entitlements SET level = ?, effective_since = ? WHERE user_id = ?`,
			entity.TierPromo, now, userId); err != nil {
			return "", fmt.Errorf("grant promo level: %w", err)
		}
	} else {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO entitlements (user_id, username, level, effective_since)
             VALUES (?, ?, ?, ?)`,
			userId, username, entity.TierPromo, now); err != nil {
			return "", fmt.Errorf("create entitlement: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return entity.RedeemGranted, nil
}
