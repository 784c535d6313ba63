package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/tunnelca/authority"
	"github.com/jmcleod/tunnelca/config"
	"github.com/jmcleod/tunnelca/logging"
)

var (
	configFile string
	baseDir    string
	debug      bool
)

// session is the state shared by subcommands for one invocation.
type session struct {
	cfg       *config.Config
	fs        afero.Fs
	logger    *slog.Logger
	authority *authority.Authority
	stores    *authority.Stores
	logCloser io.Closer
}

var app *session

var rootCmd = &cobra.Command{
	Use:   "tunnelca",
	Short: "tunnelca issues certificates and VPN client bundles",
	Long: `A private certificate authority per customer that issues server and
client certificates and writes ready-to-use OpenVPN bundles.`,
	SilenceUsage:      true,
	PersistentPreRunE: openSession,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeSession()
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		closeSession()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "Directory holding one sub-directory per customer")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
}

func openSession(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlag("base_dir", cmd.Flags().Lookup("base-dir")); err != nil {
		return err
	}
	cfg, err := config.LoadWith(v, configFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	fs := afero.NewOsFs()
	logger, logCloser, err := logging.New(fs, cfg.Logging)
	if err != nil {
		return err
	}
	s := &session{cfg: cfg, fs: fs, logger: logger, logCloser: logCloser}
	app = s

	stores, err := authority.OpenStores(cfg)
	if err != nil {
		return err
	}
	s.stores = stores

	a, err := authority.New(cfg, fs, logger, stores.Options()...)
	if err != nil {
		return err
	}
	s.authority = a

	logger.Debug("configuration loaded",
		slog.String("config", v.ConfigFileUsed()),
		slog.String("base_dir", cfg.BaseDir),
		slog.String("serial_backend", cfg.Serial.Backend),
		slog.String("ledger_backend", cfg.Ledger.Backend),
	)
	return nil
}

func closeSession() error {
	if app == nil {
		return nil
	}
	s := app
	app = nil
	var errs []error
	if s.stores != nil {
		errs = append(errs, s.stores.Close())
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}
