// Package store is the embedded BoltDB implementation of the charge store.
// Orders live in one bucket keyed by reference; a second bucket maps charge
// ids back to references.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"pix-checkout-api/models"
	"pix-checkout-api/services/payment"
)

var (
	ordersBucket    = []byte("orders")
	chargeIDsBucket = []byte("charge_ids")
)

type BoltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures both buckets exist.
func Open(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{ordersBucket, chargeIDsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(ordersBucket) == nil {
			return fmt.Errorf("bucket %s missing", ordersBucket)
		}
		return nil
	})
}

// Save upserts the order under its reference. A paid order is never replaced.
func (s *BoltStore) Save(ctx context.Context, order *models.OrderRecord) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		orders := tx.Bucket(ordersBucket)
		ids := tx.Bucket(chargeIDsBucket)
		key := []byte(order.Reference)

		if raw := orders.Get(key); raw != nil {
			var existing models.OrderRecord
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if existing.Status == models.ChargeStatusPaid && existing.ChargeID != order.ChargeID {
				return payment.ErrOrderPaid
			}
			if existing.ChargeID != order.ChargeID {
				if err := ids.Delete([]byte(existing.ChargeID)); err != nil {
					return err
				}
			}
		}

		if err := orders.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(order.ChargeID), key)
	})
}

func (s *BoltStore) Get(ctx context.Context, reference string) (*models.OrderRecord, error) {
	var order models.OrderRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getOrder(tx, reference, &order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *BoltStore) GetByChargeID(ctx context.Context, chargeID string) (*models.OrderRecord, error) {
	var order models.OrderRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		ref := tx.Bucket(chargeIDsBucket).Get([]byte(chargeID))
		if ref == nil {
			return payment.ErrOrderNotFound
		}
		return getOrder(tx, string(ref), &order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus applies u inside a single write transaction; the write is
// skipped when nothing changed.
func (s *BoltStore) UpdateStatus(ctx context.Context, u models.StatusUpdate, now time.Time) (*payment.StatusChange, error) {
	var change payment.StatusChange

	err := s.db.Update(func(tx *bolt.Tx) error {
		ref := tx.Bucket(chargeIDsBucket).Get([]byte(u.ChargeID))
		if ref == nil {
			return payment.ErrOrderNotFound
		}

		var order models.OrderRecord
		if err := getOrder(tx, string(ref), &order); err != nil {
			return err
		}

		change.From = order.Status
		change.Changed = order.ApplyStatus(u, now.UTC())
		change.Order = &order
		if !change.Changed {
			return nil
		}

		data, err := json.Marshal(&order)
		if err != nil {
			return err
		}
		return tx.Bucket(ordersBucket).Put(ref, data)
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func getOrder(tx *bolt.Tx, reference string, out *models.OrderRecord) error {
	raw := tx.Bucket(ordersBucket).Get([]byte(reference))
	if raw == nil {
		return payment.ErrOrderNotFound
	}
	return json.Unmarshal(raw, out)
}
