package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	snesmock "tracker/snes/mock"
	"tracker/snes/usb2snes"
	uatmock "tracker/uat/mock"
)

// MockCmd returns the mock command
func MockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a fake bridge or UAT server for trying the tracker without hardware",
	}
	cmd.AddCommand(mockSNESCmd())
	cmd.AddCommand(mockUATCmd())
	return cmd
}

func mockSNESCmd() *cobra.Command {
	var (
		listen string
		frames bool
	)

	cmd := &cobra.Command{
		Use:   "snes",
		Short: "Serve a fake usb2snes bridge with one console",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := snesmock.Listen(listen)
			if err != nil {
				return err
			}
			defer srv.Close()

			if frames {
				srv.StartFrames()
				defer srv.StopFrames()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "usb2snes bridge at %s\n", srv.URL())
			return waitForInterrupt()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", fmt.Sprintf("127.0.0.1:%d", usb2snes.DefaultPort), "address to serve on")
	cmd.Flags().BoolVar(&frames, "frames", true, "advance the frame counter at 60 Hz")
	return cmd
}

func mockUATCmd() *cobra.Command {
	var (
		listen string
		slot   string
		period time.Duration
	)

	cmd := &cobra.Command{
		Use:   "uat",
		Short: "Serve a fake UAT server which counts up a variable",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := uatmock.Listen(listen)
			if err != nil {
				return err
			}
			defer srv.Close()

			srv.Greet(fmt.Sprintf(`[{"cmd":"Info","protocol":0,"name":"mock","version":"0.1","features":[],"slots":[%q]}]`, slot))
			fmt.Fprintf(cmd.OutOrStdout(), "UAT server at %s\n", srv.URL())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					msg := fmt.Sprintf(`[{"cmd":"Var","name":"counter","value":%d,"slot":%q}]`, n, slot)
					if err := srv.Send(msg); err != nil {
						log.Printf("mock: %v\n", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:65399", "address to serve on")
	cmd.Flags().StringVar(&slot, "slot", "1", "slot to report")
	cmd.Flags().DurationVar(&period, "period", time.Second, "time between variable updates")
	return cmd
}

func waitForInterrupt() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	return nil
}
