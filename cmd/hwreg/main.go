package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hwreg/util"
	"hwreg/util/env"
)

// include these bus drivers:
import (
	_ "hwreg/bus/mmap"
	_ "hwreg/bus/rpc"
	_ "hwreg/bus/serial"
	_ "hwreg/bus/websocket"
)

var (
	logLevel string
	logPath  string
	logger   = zap.NewNop()
	flush    = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:           "hwreg",
		Short:         "Access memory mapped hardware registers",
		Long:          "hwreg reads and writes described register maps through a bus driver, or serves a simulated device.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := util.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("bad log level %q: %w", logLevel, err)
			}
			var lerr error
			logger, flush, lerr = util.NewLogger(logPath, level)
			if lerr != nil {
				logger.Warn("logging to stderr only", zap.Error(lerr))
			} else if logPath != "" {
				logger.Debug("logging to file", zap.String("path", logPath))
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", env.GetOrDefault("HWREG_LOG_LEVEL", "info"), "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", util.LogPath("hwreg"), "JSON log file, empty for stderr only")

	rootCmd.AddCommand(serveCmd, dumpCmd, benchCmd, driversCmd)
}

func main() {
	code := 0
	func() {
		defer func() {
			if p := recover(); p != nil {
				util.LogPanic(logger, p)
				code = 2
			}
		}()
		if err := rootCmd.Execute(); err != nil {
			logger.Error("failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, "hwreg:", err)
			code = 1
		}
	}()
	_ = flush()
	os.Exit(code)
}
