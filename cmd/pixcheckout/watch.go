package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pix-checkout-api/models"
	"pix-checkout-api/reconcile"
	"pix-checkout-api/utils"
)

func watchCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Resume waiting for the saved order",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := g.orderFile()
			if err != nil {
				return err
			}
			order, err := file.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Order %s: %s\n", order.Reference, utils.FormatBRL(order.Total))
			fmt.Fprintf(out, "PIX copia e cola:\n\n%s\n\n", pixPayload(order))
			return watchOrder(cmd, g, file, order)
		},
	}
}

func resetCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the saved order and start a new payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := g.orderFile()
			if err != nil {
				return err
			}
			if err := file.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Order cleared.")
			return nil
		},
	}
}

// watchOrder runs the reconcile loop until the order is paid, expires, or
// the user interrupts.
func watchOrder(cmd *cobra.Command, g *globalOptions, file *orderFile, order *models.OrderRecord) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	log := g.logger()
	defer log.Sync() //nolint:errcheck

	navigated := make(chan struct{})
	loop := reconcile.New(
		reconcile.NewHTTPChecker(g.apiURL, nil),
		*order.Charge(),
		reconcile.WithLogger(log),
		reconcile.OnTick(func(left time.Duration) {
			secs := int(left / time.Second)
			if secs%60 == 0 || secs <= 10 {
				fmt.Fprintf(out, "Waiting for payment... %02d:%02d left\n", secs/60, secs%60)
			}
		}),
		reconcile.OnNavigate(func(reconcile.State) { close(navigated) }),
	)
	loop.Start(ctx)
	fmt.Fprintf(out, "Waiting for payment (%s left). Press Ctrl+C to stop.\n", loop.Remaining().Round(time.Second))

	select {
	case <-loop.Done():
	case <-ctx.Done():
		loop.Stop()
		<-loop.Done()
		fmt.Fprintln(out, "\nStopped. Run `pixcheckout watch` to resume.")
		return nil
	}

	switch loop.State() {
	case reconcile.Paid:
		select {
		case <-navigated:
		default:
			fmt.Fprintln(out, "Payment confirmed. Run `pixcheckout watch` to finish.")
			return nil
		}
		if err := file.Clear(); err != nil {
			log.Warn("failed to clear order file", zap.Error(err))
		}
		fmt.Fprintln(out, "Payment confirmed!")
		fmt.Fprintln(out, g.successURL())
	case reconcile.Expired:
		fmt.Fprintln(out, "The PIX code expired. Run `pixcheckout create` to generate a new one.")
	}
	return nil
}
