package cmd

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	rediscache "go.pilab.hu/usersync/cache/redis"
	"go.pilab.hu/usersync/config"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/log"
	"go.pilab.hu/usersync/memstore"
	"go.pilab.hu/usersync/mongodb"
)

const appName = "usersyncctl"

// Backends opens the stores commands operate on. Tests replace it.
type Backends struct {
	OpenStore  func(ctx context.Context, cfg *config.ServerConfig) (domain.UserRepository, func(), error)
	OpenMirror func(cfg *config.ServerConfig) (*rediscache.UserMirror, func(), error)
}

// DefaultBackends opens the stores named by the server configuration.
func DefaultBackends() Backends {
	return Backends{
		OpenStore:  openStore,
		OpenMirror: openMirror,
	}
}

type cli struct {
	backends  Backends
	cfg       *config.ServerConfig
	appLogger log.Logger
	verbose   bool
}

// NewRootCmd builds the command tree.
func NewRootCmd(backends Backends) *cobra.Command {
	c := &cli{backends: backends}

	root := &cobra.Command{
		Use:           appName,
		Short:         "usersyncctl inspects and reconciles local user records",
		Long:          `A command-line interface for looking up users, reconciling identities against the user store and reading mirrored session users.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := zerolog.WarnLevel
			if c.verbose {
				level = zerolog.DebugLevel
			}
			c.appLogger = log.NewZerologAdapter(level, true)

			cfg, err := config.LoadConfig()
			if err != nil {
				c.appLogger.Error(cmd.Context(), "Failed to load configuration", err)
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(c.userCmd(), c.sessionCmd())
	return root
}

// Execute runs the CLI with the default backends.
func Execute() {
	if err := NewRootCmd(DefaultBackends()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.ServerConfig) (domain.UserRepository, func(), error) {
	if cfg.StoreBackend != config.StoreMongo {
		return nil, nil, fmt.Errorf("store backend %q is in-process only; set STORE_BACKEND=mongo", cfg.StoreBackend)
	}
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		return nil, nil, err
	}
	repo, err := mongodb.NewUserRepository(ctx, mongodb.GetDB(), mongodb.WithUniqueEmail(cfg.MongoUniqueEmail))
	if err != nil {
		mongodb.CloseMongoDB(ctx)
		return nil, nil, err
	}
	return repo, func() { mongodb.CloseMongoDB(context.Background()) }, nil
}

func openMirror(cfg *config.ServerConfig) (*rediscache.UserMirror, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, nil, fmt.Errorf("REDIS_ADDR is not configured")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	mirror := rediscache.NewUserMirror(client, cfg.RedisKeyPrefix, cfg.SessionMirrorTTL)
	return mirror, func() { _ = client.Close() }, nil
}

// MemoryBackends serves every command from one in-process store. Useful for
// trying commands without infrastructure.
func MemoryBackends(store *memstore.UserRepository, mirror *rediscache.UserMirror) Backends {
	return Backends{
		OpenStore: func(context.Context, *config.ServerConfig) (domain.UserRepository, func(), error) {
			return store, func() {}, nil
		},
		OpenMirror: func(*config.ServerConfig) (*rediscache.UserMirror, func(), error) {
			if mirror == nil {
				return nil, nil, fmt.Errorf("no mirror configured")
			}
			return mirror, func() {}, nil
		},
	}
}
