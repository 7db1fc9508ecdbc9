// Package sched runs the engine's periodic maintenance off the request
// path: sweeping expired ETA cache entries and refreshing the cache gauge.
package sched

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"lastmile/internal/dispatch"
	"lastmile/internal/metrics"
)

type Maintenance struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// Start schedules the ETA cache sweep on the configured cron expression
// and returns the running scheduler. Stop it on shutdown.
func Start(engine *dispatch.Engine, spec string, log zerolog.Logger) (*Maintenance, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		removed := engine.Estimator().ClearExpiredCache()
		stats := engine.Estimator().CacheStats()
		metrics.ETACacheEntries.Set(float64(stats.Entries))
		log.Debug().Int("removed", removed).Int("entries", stats.Entries).Msg("eta cache sweep")
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &Maintenance{cron: c, log: log}, nil
}

func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}
