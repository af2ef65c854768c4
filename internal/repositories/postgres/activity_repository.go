package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderledger/internal/domain"
	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const activityColumns = `id, action, entity, entity_id, description, actor_id, metadata, occurred_at`

// ActivityRepository implements repositories.ActivityRepository on the activity_logs table.
type ActivityRepository struct {
	db *ppostgres.DB
}

// NewActivityRepository constructs the activity log repository.
func NewActivityRepository(db *ppostgres.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append inserts the entry. Entries are never updated.
func (r *ActivityRepository) Append(ctx context.Context, entry domain.ActivityEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("activity.append: encode metadata: %w", err)
	}
	_, err = r.db.Querier(ctx).Exec(ctx, `INSERT INTO activity_logs (`+activityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, string(entry.Action), entry.Entity, entry.EntityID, entry.Description, entry.ActorID, payload, entry.OccurredAt)
	return ppostgres.WrapError("activity.append", err)
}

// List returns entries of one entity newest first.
func (r *ActivityRepository) List(ctx context.Context, filter repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error) {
	limit := pageSize(filter.Pagination.PageSize)
	after, err := decodeKeyset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ActivityEntry]{}, err
	}

	args := []any{strings.TrimSpace(filter.Entity), strings.TrimSpace(filter.EntityID), limit + 1}
	query := `SELECT ` + activityColumns + ` FROM activity_logs WHERE entity = $1 AND entity_id = $2`
	if after != nil {
		query += ` AND (occurred_at, id) < ($4, $5)`
		args = append(args, after.At, after.ID)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT $3`

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.ActivityEntry]{}, ppostgres.WrapError("activity.list", err)
	}
	entries, err := pgx.CollectRows(rows, scanActivity)
	if err != nil {
		return domain.CursorPage[domain.ActivityEntry]{}, ppostgres.WrapError("activity.list", err)
	}

	page := domain.CursorPage[domain.ActivityEntry]{Items: entries}
	if len(entries) > limit {
		page.Items = entries[:limit]
		last := page.Items[limit-1]
		token, err := encodeKeyset(last.OccurredAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.ActivityEntry]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func scanActivity(row pgx.CollectableRow) (domain.ActivityEntry, error) {
	var (
		entry    domain.ActivityEntry
		action   string
		metadata []byte
	)
	if err := row.Scan(&entry.ID, &action, &entry.Entity, &entry.EntityID, &entry.Description,
		&entry.ActorID, &metadata, &entry.OccurredAt); err != nil {
		return domain.ActivityEntry{}, err
	}
	entry.Action = domain.ActivityAction(action)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return domain.ActivityEntry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entry, nil
}
