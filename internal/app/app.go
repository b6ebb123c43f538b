// Package app wires configuration, credentials, the document store and the
// Azure DevOps connector into the azdo-connector command line.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/azdo-connector/internal/credential"
	"github.com/nhle/azdo-connector/internal/logging"
	"github.com/nhle/azdo-connector/internal/metrics"
	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source/azuredevops"
	"github.com/nhle/azdo-connector/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Option configures an App.
type Option func(*App)

// WithOutput redirects command output, which defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		if w != nil {
			a.out = w
		}
	}
}

// WithErrOutput redirects diagnostics, which default to stderr.
func WithErrOutput(w io.Writer) Option {
	return func(a *App) {
		if w != nil {
			a.errOut = w
		}
	}
}

// WithCredentials replaces the system keyring.
func WithCredentials(creds *credential.Store) Option {
	return func(a *App) {
		if creds != nil {
			a.openCredentials = func() (*credential.Store, error) { return creds, nil }
		}
	}
}

// WithClientFactory replaces the Azure DevOps REST client used by every
// connector.
func WithClientFactory(f azuredevops.ClientFactory) Option {
	return func(a *App) {
		a.clientFactory = f
	}
}

// WithLogger uses logger instead of building one from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.fixedLogger = logger
	}
}

// WithClock sets the time source used for poll windows.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// App holds the state shared by all commands of one invocation.
type App struct {
	// Flags.
	configPath  string
	connectorID string
	logLevel    string

	out             io.Writer
	errOut          io.Writer
	openCredentials func() (*credential.Store, error)
	clientFactory   azuredevops.ClientFactory
	fixedLogger     *zap.Logger
	now             func() time.Time

	cfg     *model.AppConfig
	logger  *zap.Logger
	store   *store.SQLiteStore
	metrics *metrics.Metrics

	// jsonlOnStdout is set while out carries a JSON lines stream.
	jsonlOnStdout bool
}

// New creates an App with production defaults.
func New(opts ...Option) *App {
	a := &App{
		configPath:      model.DefaultConfigPath(),
		out:             os.Stdout,
		errOut:          os.Stderr,
		openCredentials: credential.Open,
		now:             time.Now,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RootCommand builds the command tree.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "azdo-connector",
		Short: "Index Azure DevOps work items as searchable documents",
		Long: `azdo-connector retrieves the work items of Azure DevOps projects,
converts them to documents and keeps a local SQLite index up to date.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", a.configPath, "Path to the configuration file")
	root.PersistentFlags().StringVarP(&a.connectorID, "connector", "c", "", "Connector ID (defaults to every enabled connector)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		a.configureCommand(),
		a.checkCommand(),
		a.loadCommand(),
		a.pollCommand(),
		a.syncCommand(),
		a.statusCommand(),
		a.versionCommand(),
	)

	return root
}

// Execute runs the command line with args and releases resources
// afterwards, whether or not the command failed.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.RootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	err := root.ExecuteContext(ctx)
	if closeErr := a.teardown(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// setup loads configuration and builds the logger.
func (a *App) setup() error {
	cfg, err := model.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.fixedLogger != nil {
		a.logger = a.fixedLogger
		return nil
	}

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	logger, err := logging.New(logging.Config{
		Level:    level,
		Encoding: cfg.Log.Encoding,
	})
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *App) teardown() error {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("closing store: %w", err)
		}
		a.store = nil
	}
	if a.fixedLogger == nil {
		// Syncing stderr fails on some platforms; nothing to report.
		_ = a.logger.Sync()
	}
	return nil
}

// openStore opens the document store on first use.
func (a *App) openStore() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.store = s
	return s, nil
}

// printf writes human-readable output. It goes to errOut while stdout is
// reserved for JSON lines.
func (a *App) printf(format string, args ...any) {
	w := a.out
	if a.jsonlOnStdout {
		w = a.errOut
	}
	fmt.Fprintf(w, format, args...)
}
