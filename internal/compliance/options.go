package compliance

import (
	"time"

	"vaultline.org/internal/account"
	"vaultline.org/internal/lock"
	"vaultline.org/internal/obs"
)

const DefaultOpTimeout = 10 * time.Second

type Option func(*Service)

// WithPolicy replaces the sensitive-field policy.
func WithPolicy(p account.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLocker replaces the in-process keyed mutex, for example with a Redis lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithOpTimeout bounds operations whose context carries no deadline.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithExportRateLimit caps data exports per user. perMinute <= 0 disables it.
func WithExportRateLimit(perMinute float64, burst int) Option {
	return func(s *Service) {
		s.exportLimits = newUserLimiter(perMinute, burst)
	}
}
