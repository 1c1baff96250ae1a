package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/carelink/wardchat/api"
	"github.com/carelink/wardchat/chat"
	"github.com/carelink/wardchat/config"
	"github.com/carelink/wardchat/natsbroker"
	"github.com/carelink/wardchat/postgres"
	"github.com/carelink/wardchat/redis"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	rootCmd := &cobra.Command{
		Use:          "wardchat-api",
		Short:        "Group chat message backend",
		SilenceUsage: true,
	}
	serve := serveCmd(logger)
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(migrateCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command failed", "error", err.Error())
		os.Exit(1)
	}
}

func serverFlags(fs *pflag.FlagSet) {
	fs.String(config.FlagName("ADDR"), "", "HTTP network address")
	fs.String(config.FlagName("DATABASE_URL"), "", "Postgres connection string")
	fs.String(config.FlagName("REDIS_ADDR"), "", "Redis endpoint")
	fs.Int(config.FlagName("CACHE_SIZE"), 0, "Messages cached per group")
	fs.Int(config.FlagName("HISTORY_LIMIT"), 0, "Messages sent to new stream subscribers")
	fs.String(config.FlagName("BROKER"), "", "Event broker, redis or nats")
	fs.String(config.FlagName("NATS_URL"), "", "NATS server URL")
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the message API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
	serverFlags(cmd.Flags())
	return cmd
}

func migrateCmd(logger *slog.Logger) *cobra.Command {
	var seed []string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and optionally seed a group",
		Long: "Create the database schema. Each --group flag has the form\n" +
			"id:name:member1,member2 and creates or replaces that group.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.CreateSchema(ctx); err != nil {
				return err
			}
			logger.Info("Schema ready")

			for _, s := range seed {
				g, err := parseGroup(s)
				if err != nil {
					return err
				}
				if _, err := pg.InsertGroup(ctx, g); err != nil {
					return err
				}
				logger.Info("Group seeded", "group_id", g.ID, "members", len(g.MemberIDs))
			}
			return nil
		},
	}
	cmd.Flags().String(config.FlagName("DATABASE_URL"), "", "Postgres connection string")
	cmd.Flags().StringArrayVar(&seed, "group", nil, "Group to create, as id:name:member1,member2")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer pg.Close()

	cache, err := redis.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	defer cache.Close()
	cache.MaxSize = cfg.CacheSize
	cache.Logger = logger

	var broker api.Broker = cache
	if cfg.Broker == "nats" {
		nb, err := natsbroker.Connect(ctx, cfg.NatsURL, logger)
		if err != nil {
			return err
		}
		defer nb.Close()
		broker = nb
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	a := &api.API{
		Logger:       logger,
		DB:           pg,
		Cache:        cache,
		Broker:       broker,
		HistoryLimit: cfg.HistoryLimit,
	}

	srv := &http.Server{
		Handler: a,
	}

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logger.Info("Ready to accept traffic", "address", cfg.Addr, "broker", cfg.Broker)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// parseGroup parses id:name:member1,member2.
func parseGroup(s string) (chat.Group, error) {
	id, rest, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return chat.Group{}, fmt.Errorf("invalid group %q, want id:name:members", s)
	}
	name, members, _ := strings.Cut(rest, ":")
	g := chat.Group{ID: id, Name: name, MemberIDs: []string{}}
	for _, m := range strings.Split(members, ",") {
		if m = strings.TrimSpace(m); m != "" {
			g.MemberIDs = append(g.MemberIDs, m)
		}
	}
	return g, nil
}
