package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pix-checkout-api/models"
	"pix-checkout-api/reconcile"
	"pix-checkout-api/services/pricing"
	"pix-checkout-api/utils"
)

type createOptions struct {
	name     string
	email    string
	phone    string
	document string
	bumps    []string
	upsell   bool
	noWatch  bool
}

func createCmd(g *globalOptions) *cobra.Command {
	opts := &createOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a PIX charge and wait for payment",
		Long: `Create a PIX charge for the main product (plus any order bumps) or for
the upsell, save it to the order file and follow it until it is paid or
expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Buyer full name")
	cmd.Flags().StringVar(&opts.email, "email", "", "Buyer email")
	cmd.Flags().StringVar(&opts.phone, "phone", "", "Buyer phone")
	cmd.Flags().StringVar(&opts.document, "document", "", "Buyer CPF")
	cmd.Flags().StringSliceVar(&opts.bumps, "bump", nil, "Order bump id (repeatable)")
	cmd.Flags().BoolVar(&opts.upsell, "upsell", false, "Buy the upsell instead of the main product")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Exit after creating the charge")
	for _, f := range []string{"name", "email", "phone", "document"} {
		_ = cmd.MarkFlagRequired(f)
	}

	return cmd
}

func runCreate(cmd *cobra.Command, g *globalOptions, opts *createOptions) error {
	ctx := cmd.Context()
	file, err := g.orderFile()
	if err != nil {
		return err
	}
	api := reconcile.NewHTTPChecker(g.apiURL, nil)

	view, err := api.Catalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	value, bumps, err := priceOrder(view, opts.bumps, opts.upsell)
	if err != nil {
		return err
	}

	prefix := utils.ReferencePrefixOrder
	if opts.upsell {
		prefix = utils.ReferencePrefixUpsell
	}
	req := models.ChargeRequest{
		Value:         value,
		PayerName:     strings.TrimSpace(opts.name),
		PayerEmail:    strings.TrimSpace(opts.email),
		PayerPhone:    strings.TrimSpace(opts.phone),
		PayerDocument: strings.TrimSpace(opts.document),
		Reference:     utils.NewOrderReference(prefix, time.Now()),
		OrderBumps:    bumps,
	}

	created, err := api.CreatePayment(ctx, req)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	order := models.NewOrderRecord(req, &models.Charge{
		ID:        created.ID,
		Status:    models.NormalizeChargeStatus(created.Status),
		QRCode:    created.QRCode,
		QRCodeURL: created.QRCodeURL,
		PixCode:   created.PixCode,
	})
	order.CreatedAt = time.Now().UTC()
	if t, ok := utils.ParseProviderTime(created.ExpiresAt); ok {
		order.ExpiresAt = t
	}
	if err := file.Save(order); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Order %s: %s\n", order.Reference, utils.FormatBRL(order.Total))
	fmt.Fprintf(out, "PIX copia e cola:\n\n%s\n\n", pixPayload(order))
	if order.QRCodeURL != "" {
		fmt.Fprintf(out, "QR code: %s\n", order.QRCodeURL)
	}
	if !order.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "Expires in %d seconds.\n", utils.SecondsUntil(order.ExpiresAt, time.Now()))
	}

	if opts.noWatch {
		return nil
	}
	return watchOrder(cmd, g, file, order)
}

// priceOrder totals the purchase from the server catalog and returns the
// de-duplicated bump ids.
func priceOrder(view *pricing.View, bumpIDs []string, upsell bool) (int, []string, error) {
	if upsell {
		if len(bumpIDs) > 0 {
			return 0, nil, fmt.Errorf("order bumps cannot be combined with --upsell")
		}
		return view.Upsell.Price, nil, nil
	}

	prices := make(map[string]int, len(view.OrderBumps))
	for _, b := range view.OrderBumps {
		prices[b.ID] = b.Price
	}

	total := view.Base.Price
	seen := make(map[string]bool)
	var bumps []string
	for _, id := range bumpIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		price, ok := prices[id]
		if !ok {
			return 0, nil, fmt.Errorf("unknown order bump %q", id)
		}
		seen[id] = true
		bumps = append(bumps, id)
		total += price
	}
	return total, bumps, nil
}

func pixPayload(order *models.OrderRecord) string {
	if order.PixCode != "" {
		return order.PixCode
	}
	return order.QRCode
}
