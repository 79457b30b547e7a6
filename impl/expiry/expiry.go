package expiry

import (
	"context"
	"log/slog"
	"time"

	"clanity/entity"
	"clanity/internal/config"
	"clanity/lib/cache"
	"clanity/lib/clock"
	"clanity/lib/sl"
)

// Store is the storage slice the scheduler depends on.
type Store interface {
	ListStale(ctx context.Context, level entity.Tier, cutoff time.Time, exempt []int64) ([]*entity.Entitlement, error)
	Demote(ctx context.Context, userId int64, from entity.Tier, cutoff, now time.Time) (bool, error)
}

type Notifier interface {
	LevelChanged(change entity.LevelChange)
}

type Archive interface {
	SaveLevelChange(change *entity.LevelChange) error
}

// Scheduler runs the daily expiry sweep at a configured UTC time of day.
// Each demotion is a single conditional level+date write, so a crashed or
// repeated sweep never double-demotes: tomorrow's run catches stragglers.
type Scheduler struct {
	store    Store
	cache    *cache.Validity
	notifier Notifier
	archive  Archive
	conf     config.ExpiryConfig
	terms    map[entity.Tier]int // term length in days per expiring tier
	exempt   []int64             // never auto-demoted from trial
	log      *slog.Logger
	stopCh   chan struct{}
	done     chan struct{}
}

func New(store Store, validity *cache.Validity, conf *config.Config, log *slog.Logger) *Scheduler {
	sub := conf.Subscription
	return &Scheduler{
		store: store,
		cache: validity,
		conf:  conf.Expiry,
		terms: map[entity.Tier]int{
			entity.TierTrial: sub.TrialDays,
			entity.TierOne:   sub.PaidDays,
			entity.TierTwo:   sub.PaidDays,
			entity.TierThree: sub.PaidDays,
			entity.TierPromo: sub.PromoDays,
		},
		exempt: sub.ExemptUserIds,
		log:    log.With(sl.Module("expiry")),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Scheduler) SetArchive(a Archive) {
	s.archive = a
}

// Start launches the daily timer loop. Independent of request handling:
// the only state shared with other writers is the storage layer itself.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		for {
			next := clock.NextDaily(clock.NowUTC(), s.conf.RunAtHour, s.conf.RunAtMinute)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				s.RunOnce(context.Background())
			case <-s.stopCh:
				timer.Stop()
				return
			}
		}
	}()
	s.log.With(
		slog.Int("hour", s.conf.RunAtHour),
		slog.Int("minute", s.conf.RunAtMinute),
	).Info("expiry scheduler started")
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.done
}

// RunOnce sweeps every expiring tier. Failures are logged per tier and
// per user; they never abort the rest of the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := clock.NowUTC()
	for tier, days := range s.terms {
		s.sweepTier(ctx, tier, days, now)
	}
}

func (s *Scheduler) sweepTier(ctx context.Context, tier entity.Tier, days int, now time.Time) {
	log := s.log.With(slog.String("tier", tier.String()))

	exempt := s.exempt
	if tier != entity.TierTrial {
		exempt = nil
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	stale, err := s.store.ListStale(ctx, tier, cutoff, exempt)
	if err != nil {
		log.Error("list stale entitlements", sl.Err(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	demoted := 0
	for _, ent := range stale {
		applied, err := s.store.Demote(ctx, ent.UserId, tier, cutoff, now)
		if err != nil {
			log.With(sl.UserId(ent.UserId)).Error("demote", sl.Err(err))
			continue
		}
		if !applied {
			// the row changed since listing; nothing to do
			continue
		}
		demoted++
		s.cache.Drop(ent.UserId)

		change := entity.LevelChange{
			UserId:   ent.UserId,
			OldLevel: tier,
			NewLevel: tier.Fallback(),
			At:       now,
			Reason:   "expiry",
		}
		if s.archive != nil {
			if err = s.archive.SaveLevelChange(&change); err != nil {
				log.Warn("archive level change", sl.Err(err))
			}
		}
		if s.notifier != nil {
			s.notifier.LevelChanged(change)
		}
	}
	log.With(
		slog.Int("stale", len(stale)),
		slog.Int("demoted", demoted),
	).Info("sweep completed")
}
