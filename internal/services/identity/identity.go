// Package identity реализует административные операции над абонентом:
// регистрацию, пробный период, ссылки подключения, ручную синхронизацию и сброс.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/gateway-keeper/internal/gateway"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/ledger"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/reconciler"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

// ErrNoActiveSubscription у абонента нет действующей подписки.
var ErrNoActiveSubscription = errors.New("no active subscription")

// Repository чтение и запись абонентов вне транзакций ledger.
type Repository interface {
	CreateIdentity(ctx context.Context, uuid, externalID, email string) (models.Identity, error)
	GetIdentityByUUID(ctx context.Context, uuid string) (models.Identity, error)
	ActiveSubscription(ctx context.Context, identityID int64) (models.Subscription, error)
	ListActiveNodes(ctx context.Context) ([]models.Node, error)
	ListCredentials(ctx context.Context, identityID int64) ([]models.Credential, error)
	DeleteCredentials(ctx context.Context, identityID int64) (int64, error)
}

// Ledger изменения подписки, которые запускает администратор.
type Ledger interface {
	ActivateTrial(ctx context.Context, identityUUID string) (models.Subscription, error)
	Reset(ctx context.Context, identityUUID string) (models.Identity, error)
}

// Reconciler синхронизация с узлами.
type Reconciler interface {
	Reconcile(ctx context.Context, identity models.Identity, expiry time.Time, nodes []models.Node) reconciler.Result
	Revoke(ctx context.Context, identity models.Identity, nodes []models.Node) reconciler.Result
}

// NodeStatus исход операции на узле в ответе API. Текст ошибки остаётся в логах
// и в строке credentials.
type NodeStatus struct {
	NodeID int64  `json:"node_id"`
	Node   string `json:"node"`
	Synced bool   `json:"synced"`
}

// Status абонент и его действующая подписка.
type Status struct {
	Identity     models.Identity      `json:"identity"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// Activation результат активации или синхронизации.
type Activation struct {
	Subscription models.Subscription `json:"subscription"`
	Nodes        []NodeStatus        `json:"nodes"`
}

// ResetReport результат сброса абонента.
type ResetReport struct {
	Identity models.Identity `json:"identity"`
	Revoked  []NodeStatus    `json:"revoked"`
	Removed  int64           `json:"removed_credentials"`
}

// Descriptor ссылка подключения на одном узле.
type Descriptor struct {
	Node string `json:"node"`
	URI  string `json:"uri"`
}

// Service административные операции над абонентом.
type Service struct {
	repo   Repository
	ledger Ledger
	rec    Reconciler
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New создаёт Service.
func New(repo Repository, l Ledger, rec Reconciler, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: l,
		rec:    rec,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Register создаёт абонента или возвращает существующего с тем же external_id.
func (s *Service) Register(ctx context.Context, req models.DummyIdentity) (models.Identity, error) {
	const op = "identity.Register"
	identity, err := s.repo.CreateIdentity(ctx, s.newID(), req.ExternalID, req.Email)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("identity registered",
		slog.String("op", op),
		slog.String("identity", identity.UUID))
	return identity, nil
}

// Get возвращает абонента и его действующую подписку, если она есть.
func (s *Service) Get(ctx context.Context, identityUUID string) (Status, error) {
	const op = "identity.Get"
	identity, err := s.identity(ctx, identityUUID)
	if err != nil {
		return Status{}, fmt.Errorf("%s: %w", op, err)
	}
	out := Status{Identity: identity}
	sub, err := s.repo.ActiveSubscription(ctx, identity.ID)
	switch {
	case err == nil:
		out.Subscription = &sub
	case !errors.Is(err, repository.ErrNotFound):
		return Status{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ActivateTrial открывает пробный период и выдаёт доступ на всех активных узлах.
func (s *Service) ActivateTrial(ctx context.Context, identityUUID string) (Activation, error) {
	const op = "identity.ActivateTrial"
	sub, err := s.ledger.ActivateTrial(ctx, identityUUID)
	if err != nil {
		return Activation{}, fmt.Errorf("%s: %w", op, err)
	}
	identity, err := s.identity(ctx, identityUUID)
	if err != nil {
		return Activation{}, fmt.Errorf("%s: %w", op, err)
	}
	nodes, err := s.repo.ListActiveNodes(ctx)
	if err != nil {
		// Подписка уже записана, планировщик досинхронизирует узлы.
		s.log.Error("failed to list nodes after trial", slog.String("op", op), sl.Err(err))
		return Activation{Subscription: sub}, nil
	}
	res := s.rec.Reconcile(ctx, identity, sub.ExpiresAt, nodes)
	return Activation{Subscription: sub, Nodes: statuses(nodes, res)}, nil
}

// Resync повторно выдаёт доступ до срока действующей подписки на всех активных узлах.
func (s *Service) Resync(ctx context.Context, identityUUID string) (Activation, error) {
	const op = "identity.Resync"
	identity, sub, err := s.current(ctx, identityUUID)
	if err != nil {
		return Activation{}, fmt.Errorf("%s: %w", op, err)
	}
	nodes, err := s.repo.ListActiveNodes(ctx)
	if err != nil {
		return Activation{}, fmt.Errorf("%s: %w", op, err)
	}
	res := s.rec.Reconcile(ctx, identity, sub.ExpiresAt, nodes)
	return Activation{Subscription: sub, Nodes: statuses(nodes, res)}, nil
}

// Descriptors строит ссылки подключения для каждого активного узла.
func (s *Service) Descriptors(ctx context.Context, identityUUID string) ([]Descriptor, error) {
	const op = "identity.Descriptors"
	identity, _, err := s.current(ctx, identityUUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	nodes, err := s.repo.ListActiveNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]Descriptor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Descriptor{Node: n.Name, URI: gateway.Descriptor(n, identity.UUID)})
	}
	return out, nil
}

// Reset сбрасывает пробный период и подписки, отзывает доступ на узлах
// и удаляет записи синхронизации.
func (s *Service) Reset(ctx context.Context, identityUUID string) (ResetReport, error) {
	const op = "identity.Reset"
	log := s.log.With(slog.String("op", op), slog.String("identity", identityUUID))

	identity, err := s.ledger.Reset(ctx, identityUUID)
	if err != nil {
		return ResetReport{}, fmt.Errorf("%s: %w", op, err)
	}
	nodes, err := s.repo.ListActiveNodes(ctx)
	if err != nil {
		return ResetReport{}, fmt.Errorf("%s: %w", op, err)
	}
	res := s.rec.Revoke(ctx, identity, nodes)

	removed, err := s.repo.DeleteCredentials(ctx, identity.ID)
	if err != nil {
		return ResetReport{}, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("identity reset",
		slog.Int("revoked", res.Succeeded()),
		slog.Int("failed", res.Failed()),
		slog.Int64("removed", removed))
	return ResetReport{Identity: identity, Revoked: statuses(nodes, res), Removed: removed}, nil
}

// Credentials записи синхронизации абонента по узлам.
func (s *Service) Credentials(ctx context.Context, identityUUID string) ([]models.Credential, error) {
	const op = "identity.Credentials"
	identity, err := s.identity(ctx, identityUUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	creds, err := s.repo.ListCredentials(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return creds, nil
}

func (s *Service) identity(ctx context.Context, identityUUID string) (models.Identity, error) {
	identity, err := s.repo.GetIdentityByUUID(ctx, identityUUID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Identity{}, ledger.ErrIdentityNotFound
	}
	return identity, err
}

// current абонент с действующей и ещё не истёкшей подпиской.
func (s *Service) current(ctx context.Context, identityUUID string) (models.Identity, models.Subscription, error) {
	identity, err := s.identity(ctx, identityUUID)
	if err != nil {
		return models.Identity{}, models.Subscription{}, err
	}
	sub, err := s.repo.ActiveSubscription(ctx, identity.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Identity{}, models.Subscription{}, ErrNoActiveSubscription
	}
	if err != nil {
		return models.Identity{}, models.Subscription{}, err
	}
	if !sub.Unexpired(s.now()) {
		return models.Identity{}, models.Subscription{}, ErrNoActiveSubscription
	}
	return identity, sub, nil
}

// statuses переводит исходы в порядок узлов.
func statuses(nodes []models.Node, res reconciler.Result) []NodeStatus {
	out := make([]NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		o, ok := res[n.ID]
		out = append(out, NodeStatus{NodeID: n.ID, Node: n.Name, Synced: ok && o.Err == nil})
	}
	return out
}
