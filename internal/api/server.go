// Package api implements the HTTP surface of the dispatch service.
package api

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"lastmile/internal/config"
	"lastmile/internal/dispatch"
	"lastmile/internal/store"
	"lastmile/internal/webhooks"
)

type Server struct {
	Engine *dispatch.Engine
	Store  store.Store
	Pub    *webhooks.Publisher
	Broker EventBroker
	Log    zerolog.Logger
}

// NewServer wires the engine against the configured backends. With no
// DATABASE_URL the in-memory store is used; with no REDIS_URL the
// in-memory broker is used.
func NewServer(cfg config.Config, log zerolog.Logger) (*Server, error) {
	engine, err := dispatch.New(cfg, dispatch.WithLogger(log))
	if err != nil {
		return nil, err
	}

	var s store.Store
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn == "" {
		s = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := pg.EnsureSchema(context.Background()); err != nil {
				return nil, err
			}
		}
		s = pg
	}

	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			log.Warn().Err(err).Msg("redis broker unavailable, using in-memory broker")
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	return &Server{
		Engine: engine,
		Store:  s,
		Pub:    webhooks.NewPublisher(s),
		Broker: broker,
		Log:    log,
	}, nil
}

// NewWebhookWorker creates the background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Log)
}
