package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

func (q *Queries) GetProxy(ctx context.Context, id uuid.UUID) (model.Proxy, error) {
	var p model.Proxy
	err := q.db.QueryRow(ctx,
		`SELECT id, user_id, host, port, username, password, protocol, status, last_checked, connection_speed, created_at, updated_at
		 FROM proxies WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.UserID, &p.Host, &p.Port, &p.Username, &p.Password, &p.Protocol, &p.Status, &p.LastChecked, &p.ConnectionSpeed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Proxy{}, fmt.Errorf("getting proxy %s: %w", id, err)
	}
	return p, nil
}

// ListProxiesInUse returns every proxy currently assigned to an active
// account in this tenant schema, for the maintenance proxy-probe loop.
func (q *Queries) ListProxiesInUse(ctx context.Context) ([]model.Proxy, error) {
	rows, err := q.db.Query(ctx,
		`SELECT DISTINCT p.id, p.user_id, p.host, p.port, p.username, p.password, p.protocol, p.status, p.last_checked, p.connection_speed, p.created_at, p.updated_at
		 FROM proxies p
		 JOIN accounts a ON a.proxy_id = p.id
		 WHERE a.status = 'active'`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing proxies in use: %w", err)
	}
	defer rows.Close()

	var out []model.Proxy
	for rows.Next() {
		var p model.Proxy
		if err := rows.Scan(&p.ID, &p.UserID, &p.Host, &p.Port, &p.Username, &p.Password, &p.Protocol, &p.Status, &p.LastChecked, &p.ConnectionSpeed, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning proxy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProxyStatus records the outcome of a liveness probe: status and
// last_checked are always updated; connectionSpeed is recorded on success.
func (q *Queries) UpdateProxyStatus(ctx context.Context, id uuid.UUID, status model.ProxyStatus, checkedAt time.Time, connectionSpeed *float64) error {
	_, err := q.db.Exec(ctx,
		`UPDATE proxies SET status = $2, last_checked = $3, connection_speed = COALESCE($4, connection_speed), updated_at = now() WHERE id = $1`,
		id, status, checkedAt, connectionSpeed,
	)
	if err != nil {
		return fmt.Errorf("updating proxy status %s: %w", id, err)
	}
	return nil
}
