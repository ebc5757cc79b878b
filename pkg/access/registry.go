package access

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/sirupsen/logrus"
)

const backend = "postgres"

// Queryer runs read queries. *sql.DB and the postgres ConnectionManager
// satisfy it.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// ownership builds the availability query for one entity type. Each
// implementation selects (id, availability, owner user id) for a batch of ids.
type ownership interface {
	availabilityQuery(ids []interface{}) (string, []interface{})
}

// directOwnership reads entities that carry their own user_id
type directOwnership struct {
	table string
}

func (o directOwnership) availabilityQuery(ids []interface{}) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "availability", "user_id").
		From(o.table).
		Where(sb.In("id", ids...))
	return sb.Build()
}

// parentOwnership reads entities owned through a parent row
type parentOwnership struct {
	table       string
	parentTable string
	parentKey   string
}

func (o parentOwnership) availabilityQuery(ids []interface{}) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("e.id", "e.availability", "p.user_id").
		From(o.table+" e").
		Join(o.parentTable+" p", "p.id = e."+o.parentKey).
		Where(sb.In("e.id", ids...))
	return sb.Build()
}

// strategyFor maps every entity type to a fixed query strategy
func strategyFor(t EntityType) (ownership, error) {
	switch t {
	case EntityModelVersion:
		return parentOwnership{table: "model_versions", parentTable: "models", parentKey: "model_id"}, nil
	case EntityArticle:
		return directOwnership{table: "articles"}, nil
	case EntityPost:
		return directOwnership{table: "posts"}, nil
	case EntityModel:
		return directOwnership{table: "models"}, nil
	case EntityCollection:
		return directOwnership{table: "collections"}, nil
	case EntityBounty:
		return directOwnership{table: "bounties"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, t)
	}
}

// Registry reads entity availability and ownership
type Registry struct {
	db  Queryer
	log *logrus.Logger
}

// NewRegistry creates a registry reading from db
func NewRegistry(db Queryer, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{db: db, log: log}
}

// GetAvailability returns availability and owner for each id found, in one
// query. Missing ids are absent from the result.
func (r *Registry) GetAvailability(ctx context.Context, t EntityType, ids []int64) ([]EntityAvailability, error) {
	strategy, err := strategyFor(t)
	if err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	query, args := strategy.availabilityQuery(sqlbuilder.Flatten(ids))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(backend, "get_availability", err)
	}
	defer rows.Close()

	result := make([]EntityAvailability, 0, len(ids))
	for rows.Next() {
		var (
			id           int64
			availability sql.NullString
			owner        sql.NullInt64
		)
		if err := rows.Scan(&id, &availability, &owner); err != nil {
			return nil, storage.Wrap(backend, "get_availability", err)
		}
		result = append(result, EntityAvailability{
			EntityID:     id,
			Availability: ParseAvailability(availability.String),
			OwnerUserID:  owner.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "get_availability", err)
	}

	r.log.WithFields(logrus.Fields{
		"entity_type": t.String(),
		"requested":   len(ids),
		"found":       len(result),
	}).Debug("availability loaded")
	return result, nil
}

// uniqueIDs drops duplicates, keeping first-occurrence order
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
