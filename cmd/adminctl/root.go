// Root command for the adminctl CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jacentio/reflink/integrity"
	"github.com/jacentio/reflink/store"
)

// Exit codes.
const (
	exitUserError = 1
	exitSysError  = 2
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	out io.Writer

	configFile string
	verbose    bool

	v       *viper.Viper
	logger  *zap.Logger
	backend *backend

	// open is replaced in tests to share one store across invocations.
	open func(ctx context.Context, v *viper.Viper) (*backend, error)
}

func newRootCmd(out io.Writer) *cobra.Command {
	return newApp(out, openBackend).rootCmd()
}

func newApp(out io.Writer, open func(context.Context, *viper.Viper) (*backend, error)) *app {
	return &app{out: out, open: open}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adminctl",
		Short: "Reference checks, safe deletes and listing for the admin console",
		Long: `adminctl inspects and maintains the console's document store.

Avatars and categories are referenced by challenges. Deleting one that is
still referenced requires a replacement: every challenge is moved to the
replacement first, then the entity is removed.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error { return a.teardown() },
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: ./adminctl.yaml or ~/.config/adminctl/adminctl.yaml)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "development logging at debug level")

	cmd.AddCommand(a.dependentsCmd())
	cmd.AddCommand(a.deleteCmd())
	cmd.AddCommand(a.usersCmd())
	cmd.AddCommand(a.seedCmd())
	return cmd
}

// setup loads configuration, builds the logger and opens the backend.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	v, err := loadConfig(a.configFile)
	if err != nil {
		return err
	}
	a.v = v

	if a.verbose {
		a.logger, err = zap.NewDevelopment()
	} else {
		a.logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	b, err := a.open(cmd.Context(), v)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", v.GetString(cfgKeyBackend), err)
	}
	a.backend = b
	a.logger.Debug("backend opened", zap.String("backend", v.GetString(cfgKeyBackend)))
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.backend != nil {
		err = a.backend.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

// service builds the integrity service from configuration.
func (a *app) service() *integrity.Service {
	cfg := integrity.DefaultConfig()
	cfg.BatchRetries = a.v.GetInt(cfgKeyBatchRetries)
	cfg.RecheckBeforeDelete = a.v.GetBool(cfgKeyRecheck)
	cfg.MaxParallelChecks = a.v.GetInt(cfgKeyParallelCheck)
	return integrity.NewService(a.backend, integrity.DefaultRegistry(), cfg, a.logger)
}

// userError reports a problem with the operator's input.
type userError struct{ err error }

func (e userError) Error() string { return e.err.Error() }
func (e userError) Unwrap() error { return e.err }

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var ue userError
	if errors.As(err, &ue) {
		return exitUserError
	}
	for _, target := range []error{
		integrity.ErrMigrationRequired,
		integrity.ErrInvalidReplacement,
		integrity.ErrUnknownEntityType,
		integrity.ErrEmptyEntityID,
		store.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}
