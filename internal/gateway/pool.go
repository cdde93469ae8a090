package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

// Pool держит по одному клиенту на узел и пересоздаёт его,
// когда запись узла изменилась.
type Pool struct {
	base Config
	log  *slog.Logger

	mu      sync.Mutex
	clients map[int64]pooled
}

type pooled struct {
	client    *Client
	updatedAt time.Time
}

// NewPool создаёт пул. Из base берутся таймауты, политика повторов и лимит запросов;
// адрес, учётные данные и инбаунд берутся из записи узла.
func NewPool(base Config, log *slog.Logger) *Pool {
	return &Pool{
		base:    base,
		log:     log,
		clients: make(map[int64]pooled),
	}
}

// Get возвращает клиент узла.
func (p *Pool) Get(node models.Node) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.clients[node.ID]; ok {
		if e.updatedAt.Equal(node.UpdatedAt) {
			return e.client, nil
		}
		e.client.Close()
		delete(p.clients, node.ID)
	}

	cfg := p.base
	cfg.Name = node.Name
	cfg.BaseURL = node.APIURL
	cfg.Username = node.Username
	cfg.Password = node.Password
	cfg.InboundID = node.InboundID
	cfg.Flow = node.Flow

	c, err := NewClient(cfg, p.log)
	if err != nil {
		return nil, err
	}
	p.clients[node.ID] = pooled{client: c, updatedAt: node.UpdatedAt}
	return c, nil
}

// Close закрывает все клиенты пула.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.clients {
		e.client.Close()
		delete(p.clients, id)
	}
}
