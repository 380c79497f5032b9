package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"pix-checkout-api/models"
)

var errNoOrder = errors.New("no order in progress; run `pixcheckout create` first")

type orderFile struct {
	path string
}

func defaultOrderPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".pixcheckout", "orderData.json"), nil
}

func (f *orderFile) Load() (*models.OrderRecord, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoOrder
	}
	if err != nil {
		return nil, fmt.Errorf("read order file: %w", err)
	}

	var order models.OrderRecord
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("parse order file %s: %w", f.path, err)
	}
	if order.ChargeID == "" {
		return nil, errNoOrder
	}
	return &order, nil
}

// Save writes through a temp file so a crash never leaves half an order.
func (f *orderFile) Save(order *models.OrderRecord) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create order directory: %w", err)
	}
	raw, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write order file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *orderFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove order file: %w", err)
	}
	return nil
}
