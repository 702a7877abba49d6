package app

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"gapforets/internal/config"
	"gapforets/internal/db"
	"gapforets/internal/engine"
	"gapforets/internal/migrate"
	"gapforets/internal/notify"
)

// Options tune Open. Empty fields fall back to pdfcp.yml.
type Options struct {
	Workspace string
	RedisAddr string
	Logger    *log.Logger
}

// App bundles the opened store, loaded config and the engine built on them.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Redis  *redis.Client
	Logger *log.Logger
}

// Open loads pdfcp.yml from the workspace, opens and migrates the database
// and wires the notifier chain.
func Open(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "pdfcp ", log.LstdFlags)
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &App{DB: conn, Config: cfg, Logger: logger}

	addr := strings.TrimSpace(opts.RedisAddr)
	if addr == "" {
		addr = cfg.Notify.Redis.Addr
	}
	chain := notify.Multi{notify.Log{Logger: logger}}
	if addr != "" {
		client, err := notify.OpenRedis(addr, cfg.Notify.Redis.DB)
		if err != nil {
			// the store stays usable; only the live inbox is lost
			logger.Printf("redis %s unavailable, admin inbox disabled: %v", addr, err)
		} else {
			a.Redis = client
			chain = append(chain, a.redisNotifier())
		}
	}
	if len(cfg.Notify.Webhooks) > 0 {
		chain = append(chain, notify.Webhook{Hooks: cfg.Notify.Webhooks, Client: &http.Client{Timeout: 10 * time.Second}})
	}

	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Notifier = chain
	a.Engine = e
	return a, nil
}

func (a *App) redisNotifier() notify.Redis {
	r := a.Config.Notify.Redis
	return notify.Redis{Client: a.Redis, Channel: r.Channel, Inbox: r.Inbox, InboxSize: r.InboxSize}
}

// Inbox returns the admin inbox backed by Redis, or false when none is configured.
func (a *App) Inbox() (notify.Redis, bool) {
	if a.Redis == nil {
		return notify.Redis{}, false
	}
	return a.redisNotifier(), true
}

func (a *App) Close() error {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	return a.DB.Close()
}
