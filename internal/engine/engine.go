package engine

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"

	"gapforets/internal/comparatif"
	"gapforets/internal/config"
	"gapforets/internal/engine/auth"
	"gapforets/internal/history"
	"gapforets/internal/notify"
	"gapforets/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	History  history.Writer
	Actors   auth.Service
	Notifier notify.Notifier
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		History:  history.Writer{},
		Actors:   auth.Service{DB: db},
		Notifier: notify.Nop{},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) comparatifOptions() comparatif.Options {
	cfg := e.config()
	return comparatif.Options{Tolerance: cfg.Comparatif.Tolerance, DefaultUnit: cfg.Comparatif.DefaultUnit}
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin", err)
	}
	return tx, nil
}

func commit(tx *sql.Tx) error {
	return storeErr("commit", tx.Commit())
}

// notify runs after commit. Failures are logged and never surface to the caller.
func (e Engine) notify(ctx context.Context, evt notify.Event) {
	if e.Notifier == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.TS == "" {
		evt.TS = e.timestamp()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.Notifier.Notify(ctx, evt); err != nil {
		e.logger().Printf("notify %s for program %s failed: %v", evt.Type, evt.ProgramID, err)
	}
}
