package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/territory/internal/auth"
	"github.com/MarcoPoloResearchLab/territory/internal/config"
	"github.com/MarcoPoloResearchLab/territory/internal/database"
	"github.com/MarcoPoloResearchLab/territory/internal/events"
	"github.com/MarcoPoloResearchLab/territory/internal/logging"
	"github.com/MarcoPoloResearchLab/territory/internal/observability"
	"github.com/MarcoPoloResearchLab/territory/internal/reconcile"
	"github.com/MarcoPoloResearchLab/territory/internal/server"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	territorypostgres "github.com/MarcoPoloResearchLab/territory/internal/territory/postgres"
	"github.com/MarcoPoloResearchLab/territory/internal/users"
	"github.com/MarcoPoloResearchLab/territory/internal/zones"
)

const (
	memoryDatabaseDSN = "file:territory_memory?mode=memory&cache=shared"
	shutdownTimeout   = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "territory-api",
		Short: "Territory claim arbitration service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	followCmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow the territory change feed and serve a read-only replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollower(cmd.Context())
		},
	}
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("database-driver", defaults.GetString("database.driver"), "Ownership store driver (sqlite, postgres, memory)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("auth-issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	flags.String("cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")
	flags.StringSlice("restricted-roles", defaults.GetStringSlice("geofence.restricted_roles"), "Session roles confined to their geozones")
	flags.StringSlice("kafka-brokers", nil, "Kafka brokers for the change feed")
	flags.String("kafka-topic", defaults.GetString("kafka.topic"), "Change feed topic")
	flags.String("kafka-group-id", defaults.GetString("kafka.group_id"), "Consumer group for the replica follower")
	flags.Duration("contest-window", defaults.GetDuration("contest.window"), "How long a rejected claim labels a cell contested")
	flags.Int("max-neighbor-radius", defaults.GetInt("grid.max_neighbor_radius"), "Largest neighbor radius served by the grid API")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.cookie_name", "cookie-name")
	bindFlag(cmd, "geofence.restricted_roles", "restricted-roles")
	bindFlag(cmd, "kafka.brokers", "kafka-brokers")
	bindFlag(cmd, "kafka.topic", "kafka-topic")
	bindFlag(cmd, "kafka.group_id", "kafka-group-id")
	bindFlag(cmd, "contest.window", "contest-window")
	bindFlag(cmd, "grid.max_neighbor_radius", "max-neighbor-radius")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, "territory-api")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	databasePath := appConfig.DatabasePath
	if appConfig.DatabaseDriver == config.DriverMemory {
		databasePath = memoryDatabaseDSN
	}
	db, err := database.OpenSQLite(databasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var store territory.Store
	switch appConfig.DatabaseDriver {
	case config.DriverPostgres:
		pool, err := database.OpenPostgres(signalCtx, appConfig.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		store, err = territorypostgres.NewStore(territorypostgres.Config{Pool: pool, Logger: logger})
		if err != nil {
			return err
		}
	case config.DriverMemory:
		store = territory.NewMemoryStore(nil)
	default:
		store, err = territory.NewGormStore(territory.GormStoreConfig{Database: db, Logger: logger})
		if err != nil {
			return err
		}
	}

	zoneService, err := zones.NewService(zones.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: zones.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:        db,
		Clock:           time.Now,
		RestrictedRoles: appConfig.RestrictedRoles,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	publishers := events.Fanout{dispatcher}
	if appConfig.KafkaEnabled() {
		producer := events.NewKafkaProducer(appConfig.KafkaBrokers)
		defer producer.Close() //nolint:errcheck
		kafkaPublisher, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Writer: producer,
			Topic:  appConfig.KafkaTopic,
		})
		if err != nil {
			return err
		}
		publishers = append(publishers, kafkaPublisher)
		logger.Info("change feed enabled",
			zap.Strings("brokers", appConfig.KafkaBrokers),
			zap.String("topic", appConfig.KafkaTopic))
	}

	territoryService, err := territory.NewService(territory.ServiceConfig{
		Store:     store,
		Zones:     zoneService,
		Clock:     time.Now,
		Logger:    logger,
		Publisher: publishers,
		Metrics:   observability.NewArbitrationMetrics(),
		Contest:   territory.NewContestTracker(appConfig.ContestWindow, time.Now),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:          sessionValidator,
		Actors:            userService,
		Territories:       territoryService,
		Zones:             zoneService,
		Realtime:          dispatcher,
		MaxNeighborRadius: appConfig.MaxNeighborRadius,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	logger.Info("server starting",
		zap.String("address", appConfig.HTTPAddress),
		zap.String("database_driver", appConfig.DatabaseDriver))
	return serveHTTP(signalCtx, &http.Server{Addr: appConfig.HTTPAddress, Handler: handler}, nil)
}

func runFollower(ctx context.Context) error {
	appConfig, err := config.LoadReplica(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, "territory-replica")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := reconcile.NewCache()
	reader := events.NewKafkaReader(appConfig.KafkaBrokers, appConfig.KafkaTopic, appConfig.KafkaGroupID)
	defer reader.Close() //nolint:errcheck
	follower := events.NewFollower(reader, cache, logger)

	handler, err := server.NewReplicaHandler(server.ReplicaDependencies{Replica: cache, Logger: logger})
	if err != nil {
		return err
	}

	logger.Info("replica starting",
		zap.String("address", appConfig.HTTPAddress),
		zap.String("topic", appConfig.KafkaTopic),
		zap.String("group_id", appConfig.KafkaGroupID))
	return serveHTTP(signalCtx, &http.Server{Addr: appConfig.HTTPAddress, Handler: handler}, follower.Run)
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userID string
		email  string
		roles  []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("auth.signing_secret")
			if secret == "" {
				return errors.New("auth.signing_secret is required")
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(secret),
				Issuer:        viper.GetString("auth.issuer"),
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(auth.SessionIdentity{UserID: userID, Email: email, Roles: roles})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			cmd.PrintErrf("expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User id carried by the token")
	cmd.Flags().StringVar(&email, "email", "", "Email carried by the token")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "Roles carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

// serveHTTP runs the server, plus an optional background worker, until ctx is done or either fails.
func serveHTTP(ctx context.Context, httpServer *http.Server, worker func(context.Context) error) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if worker != nil {
		group.Go(func() error {
			err := worker(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
