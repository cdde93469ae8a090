// Package reconciler приводит учётные записи абонента на узлах в соответствие
// с его подпиской. Каждый узел обрабатывается независимо: сбой одного узла
// записывается в его строку credentials и не мешает остальным.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/gateway-keeper/internal/gateway"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/metrics"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

const (
	maxErrorLen    = 500
	persistTimeout = 10 * time.Second

	opEnsure = "ensure"
	opDelete = "delete"
)

// Gateway операции узла, которые нужны сверке.
type Gateway interface {
	Name() string
	EnsureCredential(ctx context.Context, identity models.Identity, expiry time.Time) (string, error)
	DeleteCredential(ctx context.Context, identity models.Identity) error
}

// ClientSource выдаёт клиент для узла.
type ClientSource func(node models.Node) (Gateway, error)

// PoolSource источник клиентов на основе пула.
func PoolSource(p *gateway.Pool) ClientSource {
	return func(node models.Node) (Gateway, error) {
		c, err := p.Get(node)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Store сохраняет исход по узлу и читает действующую подписку абонента.
type Store interface {
	UpsertCredential(ctx context.Context, c models.Credential) error
	ActiveSubscription(ctx context.Context, identityID int64) (models.Subscription, error)
}

// ErrNotEntitled у абонента нет активной подписки, выдавать доступ не до чего.
var ErrNotEntitled = errors.New("no active subscription")

// Options параметры сверки.
type Options struct {
	NodeTimeout time.Duration
	MaxParallel int
}

// Outcome исход операции на одном узле.
type Outcome struct {
	Node     models.Node
	RemoteID string
	Err      error
}

// Result исходы по id узла.
type Result map[int64]Outcome

// Succeeded число узлов без ошибки.
func (r Result) Succeeded() int {
	n := 0
	for _, o := range r {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed число узлов с ошибкой.
func (r Result) Failed() int {
	return len(r) - r.Succeeded()
}

// Reconciler сверка учётных записей по узлам.
type Reconciler struct {
	clients ClientSource
	store   Store
	locker  Locker
	opts    Options
	log     *slog.Logger
	now     func() time.Time
}

// New создаёт Reconciler. locker может быть nil, тогда блокировки не берутся.
func New(clients ClientSource, store Store, locker Locker, opts Options, log *slog.Logger) *Reconciler {
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = 90 * time.Second
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 8
	}
	if locker == nil {
		locker = noopLocker{}
	}
	return &Reconciler{
		clients: clients,
		store:   store,
		locker:  locker,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// Reconcile создаёт или продлевает учётную запись абонента на каждом узле.
// Срок берётся из активной подписки, прочитанной под блокировкой узла;
// expiry только снимок вызвавшего и используется для журнала.
func (r *Reconciler) Reconcile(ctx context.Context, identity models.Identity, expiry time.Time, nodes []models.Node) Result {
	return r.run(ctx, opEnsure, identity, nodes, expiry)
}

// Revoke удаляет учётную запись абонента на каждом узле. Если под блокировкой
// узла у абонента оказывается непросроченная активная подписка, запись
// не удаляется, а продлевается до её срока.
func (r *Reconciler) Revoke(ctx context.Context, identity models.Identity, nodes []models.Node) Result {
	return r.run(ctx, opDelete, identity, nodes, time.Time{})
}

func (r *Reconciler) run(ctx context.Context, op string, identity models.Identity, nodes []models.Node, requested time.Time) Result {
	log := r.log.With(
		slog.String("op", "reconciler."+op),
		slog.String("identity", identity.UUID))

	started := time.Now()
	result := make(Result, len(nodes))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.opts.MaxParallel)
	for _, node := range nodes {
		g.Go(func() error {
			out := r.node(ctx, op, identity, node, requested, log)
			mu.Lock()
			result[node.ID] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	metrics.ObserveReconcile(op, time.Since(started).Seconds())
	log.Info("reconciliation finished",
		slog.Int("nodes", len(nodes)),
		slog.Int("succeeded", result.Succeeded()),
		slog.Int("failed", result.Failed()))
	return result
}

// node выполняет операцию на одном узле под блокировкой пары (identity, node)
// и записывает исход. Действие и срок определяются по подписке, прочитанной
// под блокировкой, поэтому устаревший снимок не перезаписывает продление.
// Таймаут узла не распространяется на запись исхода.
func (r *Reconciler) node(
	ctx context.Context,
	op string,
	identity models.Identity,
	node models.Node,
	requested time.Time,
	log *slog.Logger,
) Outcome {
	out := Outcome{Node: node}
	log = log.With(sl.Node(node.Name))

	nodeCtx, cancel := context.WithTimeout(ctx, r.opts.NodeTimeout)
	defer cancel()

	var expiry *time.Time
	if op == opEnsure {
		expiry = &requested
	}

	unlock, err := r.locker.Lock(nodeCtx, LockKey(identity.ID, node.ID))
	if err != nil {
		out.Err = fmt.Errorf("lock: %w", err)
	} else {
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release lock", sl.Err(err))
			}
		}()
		op, expiry, out.Err = r.resolve(nodeCtx, op, identity, expiry)
		if out.Err == nil {
			if expiry != nil && op == opEnsure && !requested.IsZero() && !expiry.Equal(requested) {
				log.Debug("expiry superseded by current subscription",
					slog.Time("requested", requested),
					slog.Time("current", *expiry))
			}
			out.RemoteID, out.Err = r.apply(nodeCtx, node, op, identity, expiry)
		}
	}

	metrics.NodeOperation(node.Name, op, out.Err == nil)
	if out.Err != nil {
		log.Error("node operation failed", sl.Err(out.Err))
	} else {
		log.Debug("node operation succeeded",
			slog.String("action", op),
			slog.String("remote_id", out.RemoteID))
	}

	rec := models.Credential{
		IdentityID:    identity.ID,
		NodeID:        node.ID,
		RemoteID:      out.RemoteID,
		Synced:        out.Err == nil,
		LastAttemptAt: r.now(),
		ExpiresAt:     expiry,
	}
	if rec.RemoteID == "" {
		rec.RemoteID = identity.UUID
	}
	if out.Err != nil {
		rec.LastError = truncate(out.Err.Error(), maxErrorLen)
	}

	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()
	if err := r.store.UpsertCredential(persistCtx, rec); err != nil {
		log.Error("failed to record credential outcome", sl.Err(err))
	}
	return out
}

// resolve читает активную подписку и решает, что делать на узле:
// продление выполняется до её срока, удаление превращается в продление,
// если подписка ещё не истекла.
func (r *Reconciler) resolve(ctx context.Context, op string, identity models.Identity, expiry *time.Time) (string, *time.Time, error) {
	sub, err := r.store.ActiveSubscription(ctx, identity.ID)
	active := err == nil
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return op, expiry, fmt.Errorf("read subscription: %w", err)
	}

	switch {
	case op == opEnsure && !active:
		return op, expiry, ErrNotEntitled
	case op == opEnsure:
		exp := sub.ExpiresAt
		return opEnsure, &exp, nil
	case active && sub.Unexpired(r.now()):
		exp := sub.ExpiresAt
		return opEnsure, &exp, nil
	default:
		return opDelete, nil, nil
	}
}

func (r *Reconciler) apply(ctx context.Context, node models.Node, op string, identity models.Identity, expiry *time.Time) (string, error) {
	client, err := r.clients(node)
	if err != nil {
		return "", err
	}
	if op == opDelete {
		return identity.UUID, client.DeleteCredential(ctx, identity)
	}
	return client.EnsureCredential(ctx, identity, *expiry)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
