package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/phillip-england/ccmetrics/internal/blobstore"
	"github.com/phillip-england/ccmetrics/internal/config"
	"github.com/phillip-england/ccmetrics/internal/envutil"
	"github.com/phillip-england/ccmetrics/internal/logging"
	"github.com/phillip-england/ccmetrics/internal/security"
	"github.com/phillip-england/ccmetrics/internal/telemetry"
	"github.com/phillip-england/ccmetrics/internal/tracker"
	"github.com/phillip-england/ccmetrics/internal/webapp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	configPath string
	envFile    string
	out        io.Writer
}

// Execute runs the command line with args, stopping on SIGINT or SIGTERM.
func Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(&app{out: os.Stdout})
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ccmetrics",
		Short:         "Career center metrics dashboard and data entry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := envutil.LoadDotEnv(a.envFile); err != nil {
				return fmt.Errorf("load %s: %w", a.envFile, err)
			}
			return nil
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "optional YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(newSetupCommand(a), newServeCommand(a), newWorkbookCommand(a))
	return root
}

func (a *app) loadConfig() (config.Config, error) {
	return config.Load(a.configPath)
}

func openStore(cfg config.StorageConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return blobstore.NewFileStore(cfg.FilePath), nil
	case config.BackendAzure:
		return blobstore.NewAzureStore(blobstore.AzureConfig{
			ConnectionString: cfg.ConnectionString,
			AccountURL:       cfg.AccountURL,
			Container:        cfg.Container,
			Blob:             cfg.Blob,
			MaxRetries:       cfg.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newSetupCommand(a *app) *cobra.Command {
	var (
		backend          string
		connectionString string
		accountURL       string
		container        string
		blob             string
		workbookPath     string
		force            bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file with storage settings and a fresh SECRET_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := security.NewSecret()
			if err != nil {
				return err
			}
			values := map[string]string{
				"SECRET_KEY":      secret,
				"STORAGE_BACKEND": backend,
			}
			switch backend {
			case config.BackendAzure:
				if connectionString == "" && accountURL == "" {
					return errors.New("--connection-string or --account-url is required for the azure backend")
				}
				if container == "" {
					return errors.New("--container is required for the azure backend")
				}
				values["AZURE_CONTAINER_NAME"] = container
				values["AZURE_BLOB_NAME"] = blob
				if connectionString != "" {
					values["AZURE_STORAGE_CONNECTION_STRING"] = connectionString
				}
				if accountURL != "" {
					values["AZURE_STORAGE_ACCOUNT_URL"] = accountURL
				}
			case config.BackendFile:
				values["WORKBOOK_PATH"] = workbookPath
			default:
				return fmt.Errorf("unknown storage backend %q", backend)
			}

			if err := envutil.WriteDotEnv(a.envFile, values, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", a.envFile)
			return nil
		},
	}
	defaults := config.Default()
	cmd.Flags().StringVar(&backend, "backend", defaults.Storage.Backend, "storage backend: azure or file")
	cmd.Flags().StringVar(&connectionString, "connection-string", "", "Azure storage connection string")
	cmd.Flags().StringVar(&accountURL, "account-url", "", "Azure blob account URL (uses the default credential chain)")
	cmd.Flags().StringVar(&container, "container", "", "Azure container name")
	cmd.Flags().StringVar(&blob, "blob", defaults.Storage.Blob, "workbook blob name")
	cmd.Flags().StringVar(&workbookPath, "workbook-path", defaults.Storage.FilePath, "workbook path for the file backend")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing env file")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := openStore(cfg.Storage)
			if err != nil {
				return err
			}

			secret := cfg.Server.SecretKey
			if secret == "" {
				if secret, err = security.NewSecret(); err != nil {
					return err
				}
				logger.Warn("SECRET_KEY is not set; using a random key, so tokens reset on restart")
			}
			signer, err := security.NewSigner(secret)
			if err != nil {
				return err
			}

			metrics := telemetry.New()
			srv := webapp.New(webapp.Config{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				MetricsEnabled:  cfg.Server.MetricsEnabled,
			}, tracker.New(store, metrics, logger), signer, metrics, logger)

			logger.Info("starting",
				zap.String("backend", cfg.Storage.Backend),
				zap.String("workbook", store.Name()))
			if err := srv.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
