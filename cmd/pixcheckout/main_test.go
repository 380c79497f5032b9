package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pix-checkout-api/models"
	"pix-checkout-api/services/pricing"
)

func TestPriceOrder(t *testing.T) {
	view := pricing.New(1000, 690, 2700, nil).View()

	total, bumps, err := priceOrder(&view, []string{"checklist", "glossario", "checklist"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2380, total)
	assert.Equal(t, []string{"checklist", "glossario"}, bumps)

	total, bumps, err = priceOrder(&view, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 2700, total)
	assert.Empty(t, bumps)

	_, _, err = priceOrder(&view, []string{"bonus"}, false)
	assert.Error(t, err)

	_, _, err = priceOrder(&view, []string{"checklist"}, true)
	assert.Error(t, err)
}

func TestOrderFileRoundTrip(t *testing.T) {
	f := &orderFile{path: filepath.Join(t.TempDir(), "nested", "orderData.json")}

	_, err := f.Load()
	assert.ErrorIs(t, err, errNoOrder)

	order := &models.OrderRecord{Reference: "pedido-1", ChargeID: "tx-1", Status: models.ChargeStatusCreated, Total: 1000}
	require.NoError(t, f.Save(order))

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "tx-1", loaded.ChargeID)
	assert.Equal(t, 1000, loaded.Total)

	require.NoError(t, f.Clear())
	require.NoError(t, f.Clear())
	_, err = f.Load()
	assert.ErrorIs(t, err, errNoOrder)
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestCreateWithoutWatchPersistsOrder(t *testing.T) {
	var got models.ChargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/catalog":
			view := pricing.New(1000, 690, 2700, nil).View()
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": view})
		case "/api/create-payment":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":"tx-7","qr_code":"000201PIX","pix_code":"000201PIX","expires_at":"2030-01-01T00:15:00Z","status":"created"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "orderData.json")
	g := &globalOptions{apiURL: srv.URL, orderPath: path}

	out := execute(t, createCmd(g),
		"--name", "Maria Silva", "--email", "maria@example.com",
		"--phone", "11987654321", "--document", "12345678909",
		"--bump", "checklist", "--no-watch")

	assert.Contains(t, out, "000201PIX")
	assert.Contains(t, out, "R$ 16,90")
	assert.Equal(t, 1690, got.Value)
	assert.True(t, strings.HasPrefix(got.Reference, "pedido-"))

	order, err := (&orderFile{path: path}).Load()
	require.NoError(t, err)
	assert.Equal(t, "tx-7", order.ChargeID)
	assert.Equal(t, models.OrderKindMain, order.Kind)
	assert.Equal(t, []string{"checklist"}, order.OrderBumps)

	out = execute(t, resetCmd(g))
	assert.Contains(t, out, "Order cleared.")
	_, err = (&orderFile{path: path}).Load()
	assert.ErrorIs(t, err, errNoOrder)
}

func TestSuccessURL(t *testing.T) {
	tests := []struct {
		api, path, want string
	}{
		{"http://localhost:8080/", "/sucesso", "http://localhost:8080/sucesso"},
		{"https://checkout.example.com", "obrigado-pix", "https://checkout.example.com/obrigado-pix"},
		{"https://checkout.example.com", "", "https://checkout.example.com/"},
	}
	for _, tt := range tests {
		g := &globalOptions{apiURL: tt.api, successPath: tt.path}
		assert.Equal(t, tt.want, g.successURL())
	}
}
