package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"board-sync/client"
	"board-sync/config"
	"board-sync/lock"
	"board-sync/session"
	"board-sync/storage"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	RelayURL string
	Owner    string
	Token    string
	Gzip     bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run a session that follows an owner's board",
		Long: `Load the owner's board and keep it in sync with events from the relay.
With STORAGE_CONNECTION_STRING set the board is read from and written to
Azure Tables, cached in Redis when REDIS_CONNECTION_STRING is also set.
Without it the board lives in memory for the life of the process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.RelayURL, "relay", "http://localhost:9000", "relay base URL")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner whose board to follow (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token sent to the relay")
	cmd.Flags().BoolVar(&opts.Gzip, "gzip", false, "gzip published events")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions) error {
	cfg := opts.Config

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pub := client.NewPublisher(opts.RelayURL, opts.Owner)
	pub.Token = opts.Token
	pub.Gzip = opts.Gzip

	s, err := session.New(opts.Owner, session.Config{
		LockTimeout: cfg.Session.LockTimeout,
		CacheTTL:    cfg.Session.CacheTTL,
		Publisher:   pub,
		Store:       store,
		Notifier:    session.NewLogNotifier(opts.Owner),
		Logger:      log.StandardLogger(),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Load(ctx); err != nil {
		return err
	}
	snap := s.Snapshot()
	log.WithFields(log.Fields{"owner": opts.Owner, "columns": len(snap.Columns), "tasks": len(snap.Tasks)}).Info("board loaded")

	go sweep(ctx, s, cfg.Session.LockTimeout)

	sub := client.NewSubscriber(opts.RelayURL, opts.Owner)
	sub.Token = opts.Token
	sub.Logger = log.WithField("owner", opts.Owner)
	err = client.Sync(ctx, sub, s)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	snap = s.Snapshot()
	log.WithFields(log.Fields{"owner": opts.Owner, "tasks": len(snap.Tasks)}).Info("watch stopped")
	return err
}

// sweep drops expired locks and cache entries every interval until ctx is done.
func sweep(ctx context.Context, s *session.Session, interval time.Duration) {
	if interval <= 0 {
		interval = lock.DefaultTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			locks, cached := s.SweepExpired()
			if locks > 0 || cached > 0 {
				log.WithFields(log.Fields{"locks": locks, "cached": cached}).Debug("expired entries swept")
			}
		}
	}
}

// newStore picks the board store from cfg. The returned func releases any
// connection it opened.
func newStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.Storage.ConnectionString == "" {
		log.Info("no storage configured, board kept in memory")
		return storage.NewMemory(), func() {}, nil
	}
	st, err := storage.New(cfg.Storage.ConnectionString, cfg.Storage.TasksTable, cfg.Storage.ColumnsTable)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureTables(ctx); err != nil {
		return nil, nil, err
	}
	if cfg.Redis.ConnectionString == "" {
		return st, func() {}, nil
	}
	redisOpts, err := config.RedisOptions(cfg.Redis.ConnectionString)
	if err != nil {
		return nil, nil, err
	}
	rc := redis.NewClient(redisOpts)
	return storage.NewCache(st, rc, cfg.Redis.BoardCacheTTL), func() { _ = rc.Close() }, nil
}
