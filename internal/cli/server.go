package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/config"
	transport "quiz-assessment-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	var seedPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, seedPath)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "config/seed.yaml", "fixtures loaded at startup when store.driver is memory")
	return cmd
}

func runServer(ctx context.Context, configPath, portFlag, seedPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	if cfg.Store.Driver == config.DriverMemory && seedPath != "" {
		fixtures, err := loadFixtures(seedPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.WithField("path", seedPath).Warn("no fixtures found, starting with an empty store")
		case err != nil:
			return err
		default:
			if err := applyFixtures(ctx, be.seeder, fixtures); err != nil {
				return err
			}
			log.WithField("quizzes", len(fixtures.Quizzes)).WithField("users", len(fixtures.Users)).Info("fixtures loaded")
		}
	}

	redisClient := newRedisClient(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	service := app.NewQuizService(
		quizCache(cfg, redisClient, be.loader, log),
		be.store,
		be.reads,
		app.WithLogger(log),
		app.WithTimeout(config.TTLDuration(cfg.Submission.Timeout, app.DefaultSubmissionTimeout)),
		app.WithExplanationLock(config.TTLDuration(cfg.Quiz.ExplanationLock, 0)),
		app.WithFeeds(feedStore(cfg, redisClient, log)),
	)

	router := transport.NewRouter(
		transport.NewRESTHandler(service, log),
		transport.NewWSHandler(service, log),
		log,
		transport.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
		},
	)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		// Websocket streams outlive any write timeout; REST routes are bounded by the router.
		WriteTimeout: 0,
	}

	log.WithFields(logrus.Fields{"port": finalPort, "store": cfg.Store.Driver}).Info("starting quiz service")
	return serve(ctx, server, log)
}

// serve runs server until a signal arrives, ctx is done, or the listener fails.
func serve(ctx context.Context, server *http.Server, log logrus.FieldLogger) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		log.WithError(err).Error("failed to start server")
		return err
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
