// Package scheduler периодический обход подписок: напоминания перед истечением,
// перевод истёкших подписок и повторная синхронизация неуспешных узлов.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/metrics"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/reconciler"
)

type SubscriptionRepository interface {
	DueReminders(ctx context.Context, kind models.ReminderKind, after, until time.Time) ([]models.DueSubscription, error)
	DueExpirations(ctx context.Context, now time.Time) ([]models.DueSubscription, error)
	FailedSyncs(ctx context.Context, now time.Time, limit int) ([]models.DueSubscription, error)
	MarkReminderSent(ctx context.Context, id int64, kind models.ReminderKind, expiresAt time.Time) (bool, error)
	ListActiveNodes(ctx context.Context) ([]models.Node, error)
}

// Expirer переводит подписку в истёкшее состояние.
type Expirer interface {
	Expire(ctx context.Context, identityID, subscriptionID int64) (bool, error)
}

// Publisher публикует уведомления.
type Publisher interface {
	PublishNotification(kind string, n any) error
}

// Reconciler синхронизация и отзыв учётных записей на узлах.
type Reconciler interface {
	Reconcile(ctx context.Context, identity models.Identity, expiry time.Time, nodes []models.Node) reconciler.Result
	Revoke(ctx context.Context, identity models.Identity, nodes []models.Node) reconciler.Result
}

// Options параметры обхода.
type Options struct {
	Interval       time.Duration
	Location       *time.Location
	RevokeOnExpiry bool
	ResyncBatch    int
}

// Report сколько подписок обработала каждая ветка обхода.
type Report struct {
	Upcoming int
	Today    int
	Expired  int
	Resynced int
}

type SchedulerService struct {
	repo       SubscriptionRepository
	expirer    Expirer
	publisher  Publisher
	reconciler Reconciler
	opts       Options
	log        *slog.Logger
	now        func() time.Time
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(repo SubscriptionRepository, expirer Expirer, publisher Publisher, rec Reconciler, opts Options, log *slog.Logger) *SchedulerService {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ResyncBatch <= 0 {
		opts.ResyncBatch = 50
	}
	return &SchedulerService{
		repo:       repo,
		expirer:    expirer,
		publisher:  publisher,
		reconciler: rec,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// NextBoundary ближайшая граница цикла после now, кратная interval.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// EndOfDay начало следующих суток в loc.
func EndOfDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Run выполняет обход сразу и затем на каждой границе интервала до отмены ctx.
func (s *SchedulerService) Run(ctx context.Context) error {
	s.log.Info("scheduler started", slog.Duration("interval", s.opts.Interval))
	s.Sweep(ctx)
	for {
		wait := time.Until(NextBoundary(s.now(), s.opts.Interval))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep один цикл. Ветки независимы: ошибка одной не отменяет остальные.
// Текущее время и пороги вычисляются заново для каждого цикла.
func (s *SchedulerService) Sweep(ctx context.Context) Report {
	now := s.now()
	var r Report
	r.Upcoming = s.remind(ctx, models.Reminder24h, models.NotifyReminderUpcoming, now, now.Add(24*time.Hour))
	r.Today = s.remind(ctx, models.Reminder0h, models.NotifyReminderToday, now, EndOfDay(now, s.opts.Location))
	r.Expired = s.expire(ctx, now)
	r.Resynced = s.resync(ctx, now)
	s.log.Info("sweep finished",
		slog.Int("upcoming", r.Upcoming),
		slog.Int("today", r.Today),
		slog.Int("expired", r.Expired),
		slog.Int("resynced", r.Resynced))
	return r
}

// remind отправляет напоминание kind по подпискам с истечением в (now, until].
// Флаг выставляется только после успешной публикации.
func (s *SchedulerService) remind(ctx context.Context, kind models.ReminderKind, notifyKind string, now, until time.Time) int {
	log := s.log.With(slog.String("op", "scheduler.remind"), slog.String("kind", string(kind)))

	due, err := s.repo.DueReminders(ctx, kind, now, until)
	if err != nil {
		log.Error("failed to find subscriptions", sl.Err(err))
		return 0
	}
	sent := 0
	for _, d := range due {
		if err := s.publisher.PublishNotification(notifyKind, notification(notifyKind, d)); err != nil {
			log.Error("failed to publish message", sl.Err(err), slog.Int64("subscription", d.ID))
			continue
		}
		metrics.Notification(notifyKind)
		marked, err := s.repo.MarkReminderSent(ctx, d.ID, kind, d.ExpiresAt)
		if err != nil {
			log.Error("failed to mark reminder", sl.Err(err), slog.Int64("subscription", d.ID))
			continue
		}
		if !marked {
			log.Debug("subscription changed since selection", slog.Int64("subscription", d.ID))
		}
		sent++
	}
	return sent
}

func (s *SchedulerService) expire(ctx context.Context, now time.Time) int {
	log := s.log.With(slog.String("op", "scheduler.expire"))

	due, err := s.repo.DueExpirations(ctx, now)
	if err != nil {
		log.Error("failed to find expired subscriptions", sl.Err(err))
		return 0
	}

	var nodes []models.Node
	if s.opts.RevokeOnExpiry && len(due) > 0 {
		nodes, err = s.repo.ListActiveNodes(ctx)
		if err != nil {
			log.Error("failed to list nodes", sl.Err(err))
		}
	}

	expired := 0
	for _, d := range due {
		ok, err := s.expirer.Expire(ctx, d.IdentityID, d.ID)
		if err != nil {
			log.Error("failed to expire subscription", sl.Err(err), slog.Int64("subscription", d.ID))
			continue
		}
		if !ok {
			continue
		}
		expired++
		metrics.Expiration()

		if err := s.publisher.PublishNotification(models.NotifyExpired, notification(models.NotifyExpired, d)); err != nil {
			log.Error("failed to publish message", sl.Err(err), slog.Int64("subscription", d.ID))
		} else {
			metrics.Notification(models.NotifyExpired)
		}
		if len(nodes) > 0 {
			res := s.reconciler.Revoke(ctx, identityOf(d), nodes)
			if res.Failed() > 0 {
				log.Warn("credentials not revoked on some nodes",
					slog.String("identity", d.IdentityUUID), slog.Int("failed", res.Failed()))
			}
		}
	}
	return expired
}

// resync повторяет синхронизацию для абонентов с неуспешными узлами.
func (s *SchedulerService) resync(ctx context.Context, now time.Time) int {
	log := s.log.With(slog.String("op", "scheduler.resync"))

	due, err := s.repo.FailedSyncs(ctx, now, s.opts.ResyncBatch)
	if err != nil {
		log.Error("failed to find failed syncs", sl.Err(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}
	nodes, err := s.repo.ListActiveNodes(ctx)
	if err != nil {
		log.Error("failed to list nodes", sl.Err(err))
		return 0
	}
	for _, d := range due {
		res := s.reconciler.Reconcile(ctx, identityOf(d), d.ExpiresAt, nodes)
		log.Debug("resync finished",
			slog.String("identity", d.IdentityUUID),
			slog.Int("failed", res.Failed()))
	}
	return len(due)
}

func identityOf(d models.DueSubscription) models.Identity {
	return models.Identity{
		ID:         d.IdentityID,
		UUID:       d.IdentityUUID,
		ExternalID: d.ExternalID,
		Email:      d.Email,
	}
}

func notification(kind string, d models.DueSubscription) models.Notification {
	return models.Notification{
		Kind:         kind,
		IdentityUUID: d.IdentityUUID,
		ExternalID:   d.ExternalID,
		Email:        d.Email,
		Plan:         d.Plan,
		ExpiresAt:    d.ExpiresAt,
	}
}
