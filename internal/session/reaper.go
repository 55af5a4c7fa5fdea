package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper closes sessions that have been inactive beyond the idle timeout.
// It never mutates the registry itself: the closer is expected to tear the
// underlying connection down, which runs the normal disconnect path and
// avoids double-close races with an organically closing socket.
type Reaper struct {
	registry    *Registry
	idleTimeout time.Duration
	interval    time.Duration
	closer      func(sessionID string)
	log         zerolog.Logger
}

func NewReaper(registry *Registry, idleTimeout, interval time.Duration, closer func(sessionID string), log zerolog.Logger) *Reaper {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		registry:    registry,
		idleTimeout: idleTimeout,
		interval:    interval,
		closer:      closer,
		log:         log,
	}
}

// Run sweeps on a fixed period until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now().UTC())
		}
	}
}

func (r *Reaper) sweep(now time.Time) {
	for _, s := range r.registry.Snapshot() {
		if now.Sub(s.LastActivityAt) < r.idleTimeout {
			continue
		}
		r.log.Info().
			Str("session_id", s.ID).
			Time("last_activity_at", s.LastActivityAt).
			Msg("reaping idle session")
		r.closer(s.ID)
	}
}
