package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"friendsync/internal/config"
	"friendsync/internal/friends"
	"friendsync/internal/models"
	"friendsync/internal/realtime"
	"friendsync/internal/rpc"
	"friendsync/internal/rpctest"
	"friendsync/internal/session"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Run starts the friend watcher: it signs in with the configured token,
// subscribes to the change feeds and keeps the pending-request inbox
// current until interrupted. In local mode it boots an embedded in-memory
// backend with seeded users so everything works without a real service.
func Run() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Log.Level)

	var local *rpctest.Server
	if cfg.Backend.Local {
		local = startLocalBackend(cfg)
		defer local.Close()
	}

	sess := session.New(cfg.Auth.AccessToken)
	if !sess.Authenticated() {
		log.Fatal().Msg("No usable access token; configure auth.access_token")
	}

	client := rpc.NewClient(cfg.Backend.BaseURL, sess)
	notifier := &consoleNotifier{}
	screen := friends.NewScreen(client, sess, notifier, friends.Options{
		CacheTTL:        cfg.Cache.TTL.Std(),
		RefetchDebounce: cfg.Realtime.Debounce.Std(),
		SearchDebounce:  cfg.Search.Debounce.Std(),
	})
	defer screen.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := screen.RefreshPending(ctx); err != nil {
		log.Error().Err(err).Msg("Initial pending fetch failed")
	}
	cancel()
	logPending(screen)

	sub := realtime.NewSubscriber(cfg.Backend.WSURL, sess.Token(), cfg.Realtime.ReconnectBackoff.Std())
	screen.AttachFeed(sub)

	log.Info().
		Str("viewer_id", sess.ViewerID()).
		Bool("local", cfg.Backend.Local).
		Msg("Watching friend activity")

	// Periodically surface the inbox so debounced refetches become visible.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			logPending(screen)
		case <-quit:
			log.Info().Msg("Shutting down")
			return
		}
	}
}

func loadConfig() (*config.Config, error) {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("No config file, running in local mode")
		return config.Default(), nil
	}
	return config.Load(path)
}

// startLocalBackend boots the in-memory backend, seeds a demo roster and
// points the config at it.
func startLocalBackend(cfg *config.Config) *rpctest.Server {
	backend := rpctest.NewServer("local-dev-secret")
	backend.AddUser(models.UserProfile{ID: "viewer", FullName: "Demo Användare", Username: "demo"})
	backend.AddUser(models.UserProfile{ID: "anna", FullName: "Anna Andersson", Username: "anna"})
	backend.AddUser(models.UserProfile{ID: "erik", FullName: "Erik Eriksson", Username: "erik"})
	backend.AddRequest("anna", "viewer")
	backend.Befriend("viewer", "erik")
	backend.Start()

	cfg.Backend.BaseURL = backend.BaseURL()
	cfg.Backend.WSURL = backend.WSURL()
	if cfg.Auth.AccessToken == "" {
		cfg.Auth.AccessToken = backend.MintToken("viewer")
	}
	return backend
}

func logPending(screen *friends.Screen) {
	pending := screen.Pending()
	log.Info().Int("count", len(pending)).Msg("Pending friend requests")
	for _, req := range pending {
		log.Info().
			Str("request_id", req.ID).
			Str("sender", req.Sender.FullName).
			Time("created_at", req.CreatedAt).
			Msg("Pending request")
	}
}

// consoleNotifier renders dialogs as log lines. Confirm always declines so
// the watcher can never destroy a relation on its own.
type consoleNotifier struct{}

func (n *consoleNotifier) Alert(title, message string) {
	log.Info().Str("title", title).Msg(message)
}

func (n *consoleNotifier) Confirm(title, message string) bool {
	log.Info().Str("title", title).Msg(message)
	return false
}

// setupLogger configures zerolog
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
