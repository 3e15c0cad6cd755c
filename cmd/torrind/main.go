// Command torrind runs the Torrin upload server: an HTTP surface backed by
// an in-memory UploadStore and either a local-filesystem or S3-compatible
// StorageDriver, plus a background TTL/stale cleanup loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torrin-io/torrin/internal/config"
	"github.com/torrin-io/torrin/internal/httpapi"
	"github.com/torrin-io/torrin/internal/logging"
	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/service"
	"github.com/torrin-io/torrin/internal/storage"
	"github.com/torrin-io/torrin/internal/storage/localdriver"
	"github.com/torrin-io/torrin/internal/storage/s3driver"
	"github.com/torrin-io/torrin/internal/store"
)

var configPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "torrind: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "torrind",
		Short:         "Torrin resumable chunked-upload server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCleanupCmd())
	return cmd
}

func buildDriver(cfg *config.Config) (storage.Driver, error) {
	if cfg.S3.Enabled {
		resolver := aws.EndpointResolverWithOptionsFunc(func(svcID, region string, options ...interface{}) (aws.Endpoint, error) {
			if cfg.S3.Endpoint == "" {
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}
			return aws.Endpoint{URL: cfg.S3.Endpoint, SigningRegion: cfg.S3.Region, HostnameImmutable: true}, nil
		})

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.S3.Region),
			awsconfig.WithEndpointResolverWithOptions(resolver),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.S3.UsePathStyle
		})
		driver := s3driver.New(client, cfg.S3.Bucket)
		driver.KeyPrefix = cfg.S3.KeyPrefix
		return driver, nil
	}

	driver := localdriver.New(cfg.Local.TempDir, cfg.Local.BaseDir)
	driver.PreserveFileName = cfg.Local.PreserveFileName
	return driver, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background cleanup loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			driver, err := buildDriver(cfg)
			if err != nil {
				return err
			}
			sessionStore := store.NewMemStore()
			svc := service.New(sessionStore, driver, logger)

			handler := httpapi.NewRouter(svc, cfg.Server.BasePath, cfg.Server.AllowOrigins, logger)
			server := &http.Server{
				Addr:         cfg.Server.Address,
				Handler:      handler,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopCleanup := runCleanupLoop(ctx, svc, cfg.Cleanup, logger)
			defer stopCleanup()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("torrind listening", zap.String("address", cfg.Server.Address))
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass (expired + stale sessions) and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			driver, err := buildDriver(cfg)
			if err != nil {
				return err
			}
			sessionStore := store.NewMemStore()
			svc := service.New(sessionStore, driver, logger)

			ctx := context.Background()
			var expired, stale *model.CleanupResult
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				expired, err = svc.CleanupExpiredUploads(gctx)
				return err
			})
			g.Go(func() error {
				var err error
				stale, err = svc.CleanupStaleUploads(gctx, cfg.Cleanup.StaleMaxAge)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			logger.Info("cleanup pass complete",
				zap.Int("expiredCleaned", expired.Cleaned), zap.Strings("expiredErrors", expired.Errors),
				zap.Int("staleCleaned", stale.Cleaned), zap.Strings("staleErrors", stale.Errors),
			)
			return nil
		},
	}
}

// runCleanupLoop generalizes the teacher's cleanupLoop ticker: a
// background goroutine that periodically sweeps expired and stale
// sessions until ctx is canceled. Returns a function that blocks until
// the loop has exited.
func runCleanupLoop(ctx context.Context, svc *service.Service, cfg config.CleanupConfig, logger *zap.Logger) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if result, err := svc.CleanupExpiredUploads(ctx); err != nil {
					logger.Warn("expired cleanup sweep failed", zap.Error(err))
				} else if result.Cleaned > 0 || len(result.Errors) > 0 {
					logger.Info("expired cleanup sweep", zap.Int("cleaned", result.Cleaned), zap.Strings("errors", result.Errors))
				}
				if result, err := svc.CleanupStaleUploads(ctx, cfg.StaleMaxAge); err != nil {
					logger.Warn("stale cleanup sweep failed", zap.Error(err))
				} else if result.Cleaned > 0 || len(result.Errors) > 0 {
					logger.Info("stale cleanup sweep", zap.Int("cleaned", result.Cleaned), zap.Strings("errors", result.Errors))
				}
			}
		}
	}()
	return func() { <-done }
}
