package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"tracker/util"
)

func main() {
	closeLog := setupLogging()
	defer func() {
		if err := recover(); err != nil {
			util.LogPanic(err)
			closeLog()
			os.Exit(2)
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "autotracker",
		Short: "Autotracker - live game state from a console bridge or a UAT server",
		Long: `autotracker reads console memory through a usb2snes bridge (QUsb2Snes, SNI)
or game variables from a UAT server and reports changes as they happen.

Environment:
  TRACKER_SNES_ADDRESSES   comma separated usb2snes bridge addresses
  TRACKER_UAT_ADDRESSES    comma separated UAT server URIs
  TRACKER_UPDATE_INTERVAL  minimum milliseconds between console passes
  TRACKER_LOG_DISABLE      do not write a log file`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(MockCmd())

	err := rootCmd.Execute()
	closeLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging tees the standard logger to a file in the temp directory unless disabled.
func setupLogging() (closeLog func()) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	if util.IsTruthy(os.Getenv("TRACKER_LOG_DISABLE")) {
		return func() {}
	}

	f, err := util.OpenLogFile(os.TempDir(), "autotracker")
	if err != nil {
		log.Printf("could not open log file: %v\n", err)
		return func() {}
	}

	l := util.NewPanicSafeLogger(f)
	log.SetOutput(l)
	log.Printf("logging to '%s'\n", l.Name())
	return func() { _ = l.Close() }
}
