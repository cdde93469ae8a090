// Package nodes управляет реестром узлов и проверяет связь с их панелями.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/gateway"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

// ErrNodeNotFound узел с таким id не зарегистрирован.
var ErrNodeNotFound = errors.New("node not found")

// Repository хранилище узлов.
type Repository interface {
	CreateNode(ctx context.Context, n models.Node) (models.Node, error)
	GetNode(ctx context.Context, id int64) (models.Node, error)
	ListNodes(ctx context.Context, activeOnly bool) ([]models.Node, error)
	SetNodeActive(ctx context.Context, id int64, active bool) error
}

// Panel операции панели, нужные для диагностики.
type Panel interface {
	Authenticate(ctx context.Context) error
	ListCredentials(ctx context.Context) ([]models.RemoteCredential, error)
}

// PanelSource выдаёт клиент панели для узла.
type PanelSource func(node models.Node) (Panel, error)

// PoolSource источник клиентов на основе пула.
func PoolSource(p *gateway.Pool) PanelSource {
	return func(node models.Node) (Panel, error) {
		c, err := p.Get(node)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Report результат диагностики узла.
type Report struct {
	NodeID        int64  `json:"node_id"`
	Node          string `json:"node"`
	Authenticated bool   `json:"authenticated"`
	Listed        bool   `json:"listed"`
	Credentials   int    `json:"credentials"`
	Failure       string `json:"failure,omitempty"`
	ElapsedMS     int64  `json:"elapsed_ms"`
}

// Service операции над реестром узлов.
type Service struct {
	repo    Repository
	panels  PanelSource
	timeout time.Duration
	log     *slog.Logger
}

// New создаёт Service. timeout ограничивает одну диагностику узла.
func New(repo Repository, panels PanelSource, timeout time.Duration, log *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{repo: repo, panels: panels, timeout: timeout, log: log}
}

// Create регистрирует узел.
func (s *Service) Create(ctx context.Context, req models.DummyNode) (models.Node, error) {
	const op = "nodes.Create"
	n, err := s.repo.CreateNode(ctx, req.ToNode())
	if err != nil {
		return models.Node{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("node registered",
		slog.String("op", op),
		sl.Node(n.Name),
		slog.Int64("id", n.ID))
	return n, nil
}

// List возвращает узлы; activeOnly оставляет только участвующие в синхронизации.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]models.Node, error) {
	const op = "nodes.List"
	list, err := s.repo.ListNodes(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// SetActive включает или выключает узел.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	const op = "nodes.SetActive"
	err := s.repo.SetNodeActive(ctx, id, active)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNodeNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("node state changed", slog.String("op", op), slog.Int64("id", id), slog.Bool("active", active))
	return nil
}

// Check входит в панель узла и читает список клиентов инбаунда.
// Сбой панели попадает в отчёт, ошибка возвращается только для неизвестного узла
// или сбоя хранилища.
func (s *Service) Check(ctx context.Context, id int64) (Report, error) {
	const op = "nodes.Check"

	node, err := s.repo.GetNode(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return Report{}, fmt.Errorf("%s: %w", op, ErrNodeNotFound)
	}
	if err != nil {
		return Report{}, fmt.Errorf("%s: %w", op, err)
	}
	log := s.log.With(slog.String("op", op), sl.Node(node.Name))

	rep := Report{NodeID: node.ID, Node: node.Name}
	started := time.Now()
	done := func() Report {
		rep.ElapsedMS = time.Since(started).Milliseconds()
		return rep
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	panel, err := s.panels(node)
	if err != nil {
		rep.Failure = failure(err)
		log.Warn("node client unavailable", sl.Err(err))
		return done(), nil
	}
	if err := panel.Authenticate(ctx); err != nil {
		rep.Failure = failure(err)
		log.Warn("node authentication failed", sl.Err(err))
		return done(), nil
	}
	rep.Authenticated = true

	creds, err := panel.ListCredentials(ctx)
	if err != nil {
		rep.Failure = failure(err)
		log.Warn("node list failed", sl.Err(err))
		return done(), nil
	}
	rep.Listed = true
	rep.Credentials = len(creds)
	log.Info("node check passed", slog.Int("credentials", rep.Credentials))
	return done(), nil
}

// failure класс отказа без деталей ответа панели.
func failure(err error) string {
	switch {
	case errors.Is(err, gateway.ErrAuth):
		return "auth"
	case errors.Is(err, gateway.ErrConfig):
		return "config"
	case errors.Is(err, gateway.ErrNotFound):
		return "not_found"
	case errors.Is(err, gateway.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return "transient"
	}
	return "unknown"
}
