package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/orderledger/internal/domain"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const (
	activityCollection     = "activityLog"
	defaultActivityPage    = 20
	maxActivityPage        = 100
	activityOccurredAtPath = "occurredAt"
)

type activityDocument struct {
	Action      string         `firestore:"action"`
	Entity      string         `firestore:"entity"`
	EntityID    string         `firestore:"entityId"`
	Description string         `firestore:"description"`
	ActorID     string         `firestore:"actorId,omitempty"`
	Metadata    map[string]any `firestore:"metadata,omitempty"`
	OccurredAt  time.Time      `firestore:"occurredAt"`
}

// ActivityRepository stores activity entries as documents keyed by entry id.
type ActivityRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.ActivityRepository = (*ActivityRepository)(nil)

// NewActivityRepository constructs a Firestore-backed activity repository.
func NewActivityRepository(provider *pfirestore.Provider) (*ActivityRepository, error) {
	if provider == nil {
		return nil, errors.New("activity repository requires firestore provider")
	}
	return &ActivityRepository{provider: provider}, nil
}

// Append creates the entry document. Entries are immutable; an existing id is a conflict.
func (r *ActivityRepository) Append(ctx context.Context, entry domain.ActivityEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("activity repository: entry id is required")
	}
	coll, err := r.provider.Collection(ctx, activityCollection)
	if err != nil {
		return err
	}
	doc := activityDocument{
		Action:      string(entry.Action),
		Entity:      entry.Entity,
		EntityID:    entry.EntityID,
		Description: entry.Description,
		ActorID:     entry.ActorID,
		Metadata:    entry.Metadata,
		OccurredAt:  entry.OccurredAt.UTC(),
	}
	if _, err := coll.Doc(id).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("activity.append", err)
	}
	return nil
}

// List returns entries for one entity, newest first. The page token carries the last entry's
// timestamp and id.
func (r *ActivityRepository) List(ctx context.Context, filter repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ActivityEntry]{}, err
	}
	var startAfter []any
	if len(cursor.StartAfter) > 0 {
		at, id, err := decodeActivityCursor(cursor.StartAfter)
		if err != nil {
			return domain.CursorPage[domain.ActivityEntry]{}, err
		}
		startAfter = []any{at, id}
	}

	limit := filter.Pagination.PageSize
	switch {
	case limit <= 0:
		limit = defaultActivityPage
	case limit > maxActivityPage:
		limit = maxActivityPage
	}

	coll, err := r.provider.Collection(ctx, activityCollection)
	if err != nil {
		return domain.CursorPage[domain.ActivityEntry]{}, err
	}
	query := coll.Where("entity", "==", filter.Entity).
		Where("entityId", "==", filter.EntityID).
		OrderBy(activityOccurredAtPath, firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if startAfter != nil {
		query = query.StartAfter(startAfter...)
	}
	iter := query.Limit(limit + 1).Documents(ctx)
	defer iter.Stop()

	items := make([]domain.ActivityEntry, 0, limit+1)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ActivityEntry]{}, pfirestore.WrapError("activity.list", err)
		}
		var doc activityDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ActivityEntry]{}, fmt.Errorf("activity repository: decode %s: %w", snap.Ref.ID, err)
		}
		items = append(items, domain.ActivityEntry{
			ID:          snap.Ref.ID,
			Action:      domain.ActivityAction(doc.Action),
			Entity:      doc.Entity,
			EntityID:    doc.EntityID,
			Description: doc.Description,
			ActorID:     doc.ActorID,
			Metadata:    doc.Metadata,
			OccurredAt:  doc.OccurredAt.UTC(),
		})
	}

	page := domain.CursorPage[domain.ActivityEntry]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.OccurredAt.Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.ActivityEntry]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func decodeActivityCursor(values []any) (time.Time, string, error) {
	if len(values) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor", pagination.ErrInvalidPageToken)
	}
	rawAt, _ := values[0].(string)
	id, _ := values[1].(string)
	at, err := time.Parse(time.RFC3339Nano, rawAt)
	if err != nil || id == "" {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor", pagination.ErrInvalidPageToken)
	}
	return at, id, nil
}
