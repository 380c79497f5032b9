package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pix-checkout-api/models"
	"pix-checkout-api/services/payment"
)

const createOrdersTable = `
CREATE TABLE IF NOT EXISTS pix_orders (
    reference    VARCHAR(64)  NOT NULL PRIMARY KEY,
    kind         VARCHAR(16)  NOT NULL,
    name         VARCHAR(255) NOT NULL,
    email        VARCHAR(255) NOT NULL,
    phone        VARCHAR(32)  NOT NULL,
    document     VARCHAR(32)  NOT NULL,
    order_bumps  TEXT         NOT NULL,
    total        INT          NOT NULL,
    charge_id    VARCHAR(128) NOT NULL,
    status       VARCHAR(32)  NOT NULL,
    qr_code      TEXT         NOT NULL,
    qr_code_url  TEXT         NOT NULL,
    pix_code     TEXT         NOT NULL,
    expires_at   DATETIME(3)  NOT NULL,
    paid_at      DATETIME(3)  NULL,
    created_at   DATETIME(3)  NOT NULL,
    updated_at   DATETIME(3)  NOT NULL,
    UNIQUE KEY idx_pix_orders_charge_id (charge_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const orderColumns = `reference, kind, name, email, phone, document, order_bumps, total,
    charge_id, status, qr_code, qr_code_url, pix_code, expires_at, paid_at, created_at, updated_at`

// ChargeStore is the MySQL implementation of payment.ChargeStore.
type ChargeStore struct {
	conn *Connection
}

func NewChargeStore(conn *Connection) *ChargeStore {
	return &ChargeStore{conn: conn}
}

// Save upserts by reference. The status guard in the UPDATE clause keeps a
// paid row from being replaced by a new charge; status is assigned last since
// MySQL evaluates the assignments in order.
func (s *ChargeStore) Save(ctx context.Context, o *models.OrderRecord) error {
	bumps, err := json.Marshal(o.OrderBumps)
	if err != nil {
		return err
	}

	res, err := s.conn.db.ExecContext(ctx, `
        INSERT INTO pix_orders (`+orderColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            charge_id   = IF(status = 'paid', charge_id, VALUES(charge_id)),
            qr_code     = IF(status = 'paid', qr_code, VALUES(qr_code)),
            qr_code_url = IF(status = 'paid', qr_code_url, VALUES(qr_code_url)),
            pix_code    = IF(status = 'paid', pix_code, VALUES(pix_code)),
            expires_at  = IF(status = 'paid', expires_at, VALUES(expires_at)),
            order_bumps = IF(status = 'paid', order_bumps, VALUES(order_bumps)),
            total       = IF(status = 'paid', total, VALUES(total)),
            updated_at  = IF(status = 'paid', updated_at, VALUES(updated_at)),
            status      = IF(status = 'paid', status, VALUES(status))
    `,
		o.Reference, string(o.Kind), o.Name, o.Email, o.Phone, o.Document, string(bumps), o.Total,
		o.ChargeID, string(o.Status), o.QRCode, o.QRCodeURL, o.PixCode,
		o.ExpiresAt.UTC(), nullTime(o.PaidAt), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.Reference, err)
	}

	// MySQL reports 0 affected rows when the paid guard left the row untouched.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		existing, err := s.Get(ctx, o.Reference)
		if err == nil && existing.Status == models.ChargeStatusPaid && existing.ChargeID != o.ChargeID {
			return payment.ErrOrderPaid
		}
	}
	return nil
}

func (s *ChargeStore) Get(ctx context.Context, reference string) (*models.OrderRecord, error) {
	row := s.conn.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM pix_orders WHERE reference = ?`, reference)
	return scanOrder(row)
}

func (s *ChargeStore) GetByChargeID(ctx context.Context, chargeID string) (*models.OrderRecord, error) {
	row := s.conn.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM pix_orders WHERE charge_id = ?`, chargeID)
	return scanOrder(row)
}

// UpdateStatus locks the row, applies the transition rules in Go and writes
// back only when something changed.
func (s *ChargeStore) UpdateStatus(ctx context.Context, u models.StatusUpdate, now time.Time) (*payment.StatusChange, error) {
	var change payment.StatusChange

	err := s.conn.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM pix_orders WHERE charge_id = ? FOR UPDATE`, u.ChargeID)
		order, err := scanOrder(row)
		if err != nil {
			return err
		}

		change.From = order.Status
		change.Changed = order.ApplyStatus(u, now.UTC())
		change.Order = order
		if !change.Changed {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
            UPDATE pix_orders SET status = ?, paid_at = ?, updated_at = ?
            WHERE reference = ?
        `, string(order.Status), nullTime(order.PaidAt), order.UpdatedAt.UTC(), order.Reference)
		if err != nil {
			return fmt.Errorf("update status for %s: %w", order.Reference, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *ChargeStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *ChargeStore) Close() error {
	return s.conn.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.OrderRecord, error) {
	var (
		o      models.OrderRecord
		kind   string
		status string
		bumps  string
		paidAt sql.NullTime
	)
	err := row.Scan(
		&o.Reference, &kind, &o.Name, &o.Email, &o.Phone, &o.Document, &bumps, &o.Total,
		&o.ChargeID, &status, &o.QRCode, &o.QRCodeURL, &o.PixCode,
		&o.ExpiresAt, &paidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Kind = models.OrderKind(kind)
	o.Status = models.ChargeStatus(status)
	if bumps != "" && bumps != "null" {
		if err := json.Unmarshal([]byte(bumps), &o.OrderBumps); err != nil {
			return nil, fmt.Errorf("decode order bumps: %w", err)
		}
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		o.PaidAt = &t
	}
	return &o, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
