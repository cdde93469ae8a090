package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

const nodeColumns = `id, name, api_url, username, password, inbound_id, active,
	host, port, public_key, short_ids, sni, security, network, flow, fingerprint,
	spider_x, xhttp_host, xhttp_path, xhttp_mode, created_at, updated_at`

func (s *Storage) scanNode(row rowScanner) (models.Node, error) {
	var (
		n        models.Node
		sealed   string
		shortIDs string
	)
	err := row.Scan(&n.ID, &n.Name, &n.APIURL, &n.Username, &sealed, &n.InboundID, &n.Active,
		&n.Host, &n.Port, &n.PublicKey, &shortIDs, &n.SNI, &n.Security, &n.Network, &n.Flow,
		&n.Fingerprint, &n.SpiderX, &n.XHTTPHost, &n.XHTTPPath, &n.XHTTPMode, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return models.Node{}, err
	}
	if shortIDs != "" {
		n.ShortIDs = strings.Split(shortIDs, ",")
	}
	n.Password, err = s.sealer.Open(sealed)
	if err != nil {
		return models.Node{}, fmt.Errorf("open password of node %s: %w", n.Name, err)
	}
	return n, nil
}

// CreateNode регистрирует узел. Пароль записывается запечатанным.
func (s *Storage) CreateNode(ctx context.Context, n models.Node) (models.Node, error) {
	const op = "storage.CreateNode"

	sealed, err := s.sealer.Seal(n.Password)
	if err != nil {
		return models.Node{}, fmt.Errorf("%s: %w", op, err)
	}
	query := `INSERT INTO nodes (name, api_url, username, password, inbound_id, active,
				host, port, public_key, short_ids, sni, security, network, flow, fingerprint,
				spider_x, xhttp_host, xhttp_path, xhttp_mode)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			  RETURNING ` + nodeColumns
	out, err := s.scanNode(s.q.QueryRowContext(ctx, query,
		n.Name, n.APIURL, n.Username, sealed, n.InboundID, n.Active,
		n.Host, n.Port, n.PublicKey, strings.Join(n.ShortIDs, ","), n.SNI, n.Security, n.Network,
		n.Flow, n.Fingerprint, n.SpiderX, n.XHTTPHost, n.XHTTPPath, n.XHTTPMode))
	if err != nil {
		return models.Node{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// GetNode возвращает узел по id.
func (s *Storage) GetNode(ctx context.Context, id int64) (models.Node, error) {
	const op = "storage.GetNode"
	n, err := s.scanNode(s.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
	if err != nil {
		return models.Node{}, notFound(op, err)
	}
	return n, nil
}

// ListNodes возвращает все узлы; activeOnly оставляет только участвующие в синхронизации.
func (s *Storage) ListNodes(ctx context.Context, activeOnly bool) ([]models.Node, error) {
	const op = "storage.ListNodes"

	query := `SELECT ` + nodeColumns + ` FROM nodes`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Node
	for rows.Next() {
		n, err := s.scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListActiveNodes узлы, участвующие в синхронизации.
func (s *Storage) ListActiveNodes(ctx context.Context) ([]models.Node, error) {
	return s.ListNodes(ctx, true)
}

// SetNodeActive включает или выключает участие узла в синхронизации.
func (s *Storage) SetNodeActive(ctx context.Context, id int64, active bool) error {
	const op = "storage.SetNodeActive"
	res, err := s.q.ExecContext(ctx,
		`UPDATE nodes SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOne(op, res)
}
