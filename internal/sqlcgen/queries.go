package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getDatasetStamp = `-- name: GetDatasetStamp :one
SELECT GREATEST(
         (SELECT MAX(updated_at) FROM incidents WHERE resolved_at IS NULL),
         (SELECT MAX(updated_at) FROM safe_routes),
         (SELECT MAX(updated_at) FROM community_groups)
       ) AS updated_at,
       (SELECT COUNT(*) FROM incidents WHERE resolved_at IS NULL)
         + (SELECT COUNT(*) FROM safe_routes)
         + (SELECT COUNT(*) FROM community_groups) AS row_count
`

func (q *Queries) GetDatasetStamp(ctx context.Context) (DatasetStamp, error) {
	row := q.db.QueryRow(ctx, getDatasetStamp)
	var i DatasetStamp
	err := row.Scan(&i.UpdatedAt, &i.Rows)
	return i, err
}

const listIncidents = `-- name: ListIncidents :many
SELECT id,
       type,
       title,
       description,
       severity,
       urgent,
       verified,
       latitude,
       longitude,
       reported_at
FROM incidents
WHERE resolved_at IS NULL
ORDER BY reported_at DESC, id ASC
LIMIT $1
`

func (q *Queries) ListIncidents(ctx context.Context, limit int32) ([]Incident, error) {
	rows, err := q.db.Query(ctx, listIncidents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Incident
	for rows.Next() {
		var i Incident
		if err := rows.Scan(
			&i.ID,
			&i.Type,
			&i.Title,
			&i.Description,
			&i.Severity,
			&i.Urgent,
			&i.Verified,
			&i.Latitude,
			&i.Longitude,
			&i.ReportedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listSafeRoutes = `-- name: ListSafeRoutes :many
SELECT id,
       name,
       description,
       safety_score,
       lighting,
       start_lat,
       start_lng,
       end_lat,
       end_lng
FROM safe_routes
ORDER BY safety_score DESC, id ASC
LIMIT $1
`

func (q *Queries) ListSafeRoutes(ctx context.Context, limit int32) ([]SafeRoute, error) {
	rows, err := q.db.Query(ctx, listSafeRoutes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SafeRoute
	for rows.Next() {
		var i SafeRoute
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Description,
			&i.SafetyScore,
			&i.Lighting,
			&i.StartLat,
			&i.StartLng,
			&i.EndLat,
			&i.EndLng,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listCommunityGroups = `-- name: ListCommunityGroups :many
SELECT g.id,
       g.name,
       g.description,
       (SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)::int AS member_count,
       g.latitude,
       g.longitude
FROM community_groups g
ORDER BY g.name ASC, g.id ASC
LIMIT $1
`

func (q *Queries) ListCommunityGroups(ctx context.Context, limit int32) ([]CommunityGroup, error) {
	rows, err := q.db.Query(ctx, listCommunityGroups, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CommunityGroup
	for rows.Next() {
		var i CommunityGroup
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Description,
			&i.MemberCount,
			&i.Latitude,
			&i.Longitude,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
