package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/nkiryanov/authcore/internal/logger"
)

const (
	defaultInterval = 10 * time.Minute
	defaultTimeout  = 30 * time.Second
)

type blacklistPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type ledgerCleaner interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper removes expired blacklist entries and refresh tokens periodically
// Expired rows are dead weight only: lookups ignore them anyway
type Sweeper struct {
	interval time.Duration
	timeout  time.Duration

	blacklist blacklistPurger
	ledger    ledgerCleaner
	logger    logger.Logger

	now func() time.Time
}

func New(interval time.Duration, blacklist blacklistPurger, ledger ledgerCleaner, l logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Sweeper{
		interval:  interval,
		timeout:   defaultTimeout,
		blacklist: blacklist,
		ledger:    ledger,
		logger:    l,
		now:       time.Now,
	}
}

type Result struct {
	Blacklist int64
	Ledger    int64
}

// Sweep once. Both stores are swept even if one of them fails
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()

	purged, errBlacklist := s.blacklist.PurgeExpired(ctx, now)
	if errBlacklist == nil {
		res.Blacklist = purged
	}

	deleted, errLedger := s.ledger.DeleteExpired(ctx, now)
	if errLedger == nil {
		res.Ledger = deleted
	}

	return res, errors.Join(errBlacklist, errLedger)
}

// Run sweeps every interval until context is done
// Returned channel is closed when sweeper stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				res, err := s.Sweep(ctx)
				if err != nil {
					s.logger.Error("Sweep failed", "error", err)
				}
				if res.Blacklist > 0 || res.Ledger > 0 {
					s.logger.Info("Expired tokens removed", "blacklist", res.Blacklist, "refresh_tokens", res.Ledger)
				}
			}
		}
	}()

	return idleStopped
}
