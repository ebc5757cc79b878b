package access

import (
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Resolver walks grant edges from users to private entities. A club grant is
// satisfied by owning, administering or holding an active membership in the
// club. A tier grant is satisfied by an active membership in the tier, or by
// owning or administering the tier's club.
type Resolver struct {
	db     Queryer
	log    *logrus.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithResolverClock overrides time.Now for membership expiry
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver reading from db
func NewResolver(db Queryer, log *logrus.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	r := &Resolver{
		db:     db,
		log:    log,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type grantRow struct {
	targetID     int64
	accessorType AccessorType
	accessorID   int64
}

// ResolvePrivateAccess returns the subset of ids the user reaches through a
// grant. Entities without a satisfied grant are absent.
func (r *Resolver) ResolvePrivateAccess(ctx context.Context, t EntityType, ids []int64, userID int64) (map[int64]struct{}, error) {
	reachable := make(map[int64]struct{})
	ids = uniqueIDs(ids)
	if len(ids) == 0 || userID <= 0 {
		return reachable, nil
	}
	if !t.Valid() {
		return nil, ErrUnknownEntityType
	}

	ctx, span := r.tracer.Start(ctx, "access.ResolvePrivateAccess", trace.WithAttributes(
		attribute.String("access.entity_type", t.String()),
		attribute.Int("access.entity_count", len(ids)),
	))
	defer span.End()

	grants, err := r.grantsFor(ctx, t, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	clubSet := make(map[int64]struct{})
	tierSet := make(map[int64]struct{})
	for _, g := range grants {
		switch g.accessorType {
		case AccessorUser:
			if g.accessorID == userID {
				reachable[g.targetID] = struct{}{}
			}
		case AccessorClub:
			clubSet[g.accessorID] = struct{}{}
		case AccessorClubTier:
			tierSet[g.accessorID] = struct{}{}
		}
	}
	if len(clubSet) == 0 && len(tierSet) == 0 {
		return reachable, nil
	}

	tierClubs, err := r.tierParents(ctx, keys(tierSet))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, clubID := range tierClubs {
		clubSet[clubID] = struct{}{}
	}

	paths, err := r.userPaths(ctx, userID, keys(clubSet), keys(tierSet))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, g := range grants {
		switch g.accessorType {
		case AccessorClub:
			if paths.privileged(g.accessorID) || paths.has(paths.memberClubs, g.accessorID) {
				reachable[g.targetID] = struct{}{}
			}
		case AccessorClubTier:
			clubID, known := tierClubs[g.accessorID]
			if paths.has(paths.memberTiers, g.accessorID) || (known && paths.privileged(clubID)) {
				reachable[g.targetID] = struct{}{}
			}
		}
	}

	span.SetAttributes(attribute.Int("access.reachable_count", len(reachable)))
	return reachable, nil
}

func (r *Resolver) grantsFor(ctx context.Context, t EntityType, ids []int64) ([]grantRow, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("target_id", "accessor_type", "accessor_id").
		From("entity_access").
		Where(
			sb.Equal("target_type", t.String()),
			sb.In("target_id", sqlbuilder.Flatten(ids)...),
		)
	query, args := sb.Build()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(backend, "get_grants", err)
	}
	defer rows.Close()

	var grants []grantRow
	for rows.Next() {
		var g grantRow
		if err := rows.Scan(&g.targetID, &g.accessorType, &g.accessorID); err != nil {
			return nil, storage.Wrap(backend, "get_grants", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "get_grants", err)
	}
	return grants, nil
}

// tierParents maps tier ids to their club ids
func (r *Resolver) tierParents(ctx context.Context, tierIDs []int64) (map[int64]int64, error) {
	parents := make(map[int64]int64, len(tierIDs))
	if len(tierIDs) == 0 {
		return parents, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "club_id").
		From("club_tiers").
		Where(sb.In("id", sqlbuilder.Flatten(tierIDs)...))
	query, args := sb.Build()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(backend, "get_tier_parents", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tierID, clubID int64
		if err := rows.Scan(&tierID, &clubID); err != nil {
			return nil, storage.Wrap(backend, "get_tier_parents", err)
		}
		parents[tierID] = clubID
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "get_tier_parents", err)
	}
	return parents, nil
}

// membershipPaths is the user's standing in a set of clubs and tiers
type membershipPaths struct {
	ownedClubs  map[int64]struct{}
	adminClubs  map[int64]struct{}
	memberClubs map[int64]struct{}
	memberTiers map[int64]struct{}
}

func (p *membershipPaths) has(set map[int64]struct{}, id int64) bool {
	_, ok := set[id]
	return ok
}

// privileged reports ownership or administration of a club
func (p *membershipPaths) privileged(clubID int64) bool {
	return p.has(p.ownedClubs, clubID) || p.has(p.adminClubs, clubID)
}

// userPaths loads ownership, admin and active membership rows for the
// candidate clubs and tiers in parallel
func (r *Resolver) userPaths(ctx context.Context, userID int64, clubIDs, tierIDs []int64) (*membershipPaths, error) {
	paths := &membershipPaths{}
	now := r.now().UTC()

	g, ctx := errgroup.WithContext(ctx)
	if len(clubIDs) > 0 {
		clubArgs := sqlbuilder.Flatten(clubIDs)
		g.Go(func() error {
			sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
			sb.Select("id").From("clubs").Where(sb.Equal("user_id", userID), sb.In("id", clubArgs...))
			set, err := r.idSet(ctx, "get_owned_clubs", sb)
			paths.ownedClubs = set
			return err
		})
		g.Go(func() error {
			sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
			sb.Select("club_id").From("club_admins").Where(sb.Equal("user_id", userID), sb.In("club_id", clubArgs...))
			set, err := r.idSet(ctx, "get_admin_clubs", sb)
			paths.adminClubs = set
			return err
		})
		g.Go(func() error {
			sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
			sb.Select("club_id").From("club_memberships").Where(
				sb.Equal("user_id", userID),
				sb.In("club_id", clubArgs...),
				activeMembership(sb, now),
			)
			set, err := r.idSet(ctx, "get_club_memberships", sb)
			paths.memberClubs = set
			return err
		})
	}
	if len(tierIDs) > 0 {
		g.Go(func() error {
			sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
			sb.Select("club_tier_id").From("club_memberships").Where(
				sb.Equal("user_id", userID),
				sb.In("club_tier_id", sqlbuilder.Flatten(tierIDs)...),
				activeMembership(sb, now),
			)
			set, err := r.idSet(ctx, "get_tier_memberships", sb)
			paths.memberTiers = set
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// activeMembership admits non-expiring memberships and those expiring after now
func activeMembership(sb *sqlbuilder.SelectBuilder, now time.Time) string {
	return sb.Or(sb.IsNull("expires_at"), sb.GreaterThan("expires_at", now))
}

// idSet runs a single-column id query
func (r *Resolver) idSet(ctx context.Context, op string, sb *sqlbuilder.SelectBuilder) (map[int64]struct{}, error) {
	query, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(backend, op, err)
	}
	defer rows.Close()

	set := make(map[int64]struct{})
	for rows.Next() {
		var id sql.NullInt64
		if err := rows.Scan(&id); err != nil {
			return nil, storage.Wrap(backend, op, err)
		}
		if id.Valid {
			set[id.Int64] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, op, err)
	}
	return set, nil
}

// EntitiesRequiringClub lists the clubs and tiers that gate each entity,
// without evaluating any user. A non-empty clubIDs keeps only gates belonging
// to those clubs. Entities without club gates are absent.
func (r *Resolver) EntitiesRequiringClub(ctx context.Context, t EntityType, ids []int64, clubIDs []int64) ([]ClubRequirement, error) {
	if !t.Valid() {
		return nil, ErrUnknownEntityType
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("ea.target_id", "ea.accessor_type", "ea.accessor_id", "ct.club_id").
		From("entity_access ea").
		JoinWithOption(sqlbuilder.LeftJoin, "club_tiers ct",
			"ct.id = ea.accessor_id",
			sb.Equal("ea.accessor_type", string(AccessorClubTier)),
		).
		Where(
			sb.Equal("ea.target_type", t.String()),
			sb.In("ea.target_id", sqlbuilder.Flatten(ids)...),
			sb.In("ea.accessor_type", string(AccessorClub), string(AccessorClubTier)),
		).
		OrderBy("ea.target_id", "ea.accessor_id")

	if clubIDs = uniqueIDs(clubIDs); len(clubIDs) > 0 {
		clubArgs := sqlbuilder.Flatten(clubIDs)
		sb.Where(sb.Or(
			sb.And(sb.Equal("ea.accessor_type", string(AccessorClub)), sb.In("ea.accessor_id", clubArgs...)),
			sb.And(sb.Equal("ea.accessor_type", string(AccessorClubTier)), sb.In("ct.club_id", clubArgs...)),
		))
	}

	query, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(backend, "get_club_requirements", err)
	}
	defer rows.Close()

	byEntity := make(map[int64]*ClubRequirement)
	var order []int64
	for rows.Next() {
		var (
			targetID     int64
			accessorType AccessorType
			accessorID   int64
			tierClubID   sql.NullInt64
		)
		if err := rows.Scan(&targetID, &accessorType, &accessorID, &tierClubID); err != nil {
			return nil, storage.Wrap(backend, "get_club_requirements", err)
		}

		var gate ClubGate
		switch accessorType {
		case AccessorClub:
			gate = ClubGate{ClubID: accessorID}
		case AccessorClubTier:
			if !tierClubID.Valid {
				// Dangling tier grant
				continue
			}
			gate = ClubGate{ClubID: tierClubID.Int64, ClubTierID: accessorID}
		default:
			continue
		}

		req, ok := byEntity[targetID]
		if !ok {
			req = &ClubRequirement{EntityID: targetID}
			byEntity[targetID] = req
			order = append(order, targetID)
		}
		req.Gates = append(req.Gates, gate)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "get_club_requirements", err)
	}

	result := make([]ClubRequirement, 0, len(order))
	for _, id := range order {
		result = append(result, *byEntity[id])
	}
	return result, nil
}

// ReachableEntities computes every entity the user reaches through any grant.
// It follows the same edges as ResolvePrivateAccess, unscoped.
func (r *Resolver) ReachableEntities(ctx context.Context, userID int64) ([]EntityKey, error) {
	if userID <= 0 {
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, "access.ReachableEntities")
	defer span.End()

	clubs, tiers, err := r.userClosure(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	edges := []string{
		sb.And(sb.Equal("accessor_type", string(AccessorUser)), sb.Equal("accessor_id", userID)),
	}
	if len(clubs) > 0 {
		edges = append(edges, sb.And(sb.Equal("accessor_type", string(AccessorClub)), sb.In("accessor_id", sqlbuilder.Flatten(clubs)...)))
	}
	if len(tiers) > 0 {
		edges = append(edges, sb.And(sb.Equal("accessor_type", string(AccessorClubTier)), sb.In("accessor_id", sqlbuilder.Flatten(tiers)...)))
	}
	sb.Select("target_type", "target_id").
		Distinct().
		From("entity_access").
		Where(sb.Or(edges...)).
		OrderBy("target_type", "target_id")
	query, args := sb.Build()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(backend, "get_reachable", err)
	}
	defer rows.Close()

	var result []EntityKey
	for rows.Next() {
		var (
			targetType string
			targetID   int64
		)
		if err := rows.Scan(&targetType, &targetID); err != nil {
			return nil, storage.Wrap(backend, "get_reachable", err)
		}
		t, err := ParseEntityType(targetType)
		if err != nil {
			r.log.WithField("target_type", targetType).Warn("skipping grant with unknown target type")
			continue
		}
		result = append(result, NewEntityKey(t, targetID))
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "get_reachable", err)
	}

	span.SetAttributes(attribute.Int("access.reachable_count", len(result)))
	return result, nil
}

// userClosure returns the clubs whose grants the user satisfies and the tiers
// whose grants the user satisfies
func (r *Resolver) userClosure(ctx context.Context, userID int64) (clubs, tiers []int64, err error) {
	now := r.now().UTC()

	var (
		mu         sync.Mutex
		privileged = make(map[int64]struct{})
		clubSet    = make(map[int64]struct{})
		tierSet    = make(map[int64]struct{})
	)
	merge := func(dst map[int64]struct{}, src map[int64]struct{}) {
		mu.Lock()
		defer mu.Unlock()
		for id := range src {
			dst[id] = struct{}{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("id").From("clubs").Where(sb.Equal("user_id", userID))
		set, err := r.idSet(gctx, "get_owned_clubs", sb)
		merge(privileged, set)
		return err
	})
	g.Go(func() error {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("club_id").From("club_admins").Where(sb.Equal("user_id", userID))
		set, err := r.idSet(gctx, "get_admin_clubs", sb)
		merge(privileged, set)
		return err
	})
	g.Go(func() error {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("club_id").From("club_memberships").Where(sb.Equal("user_id", userID), activeMembership(sb, now))
		set, err := r.idSet(gctx, "get_club_memberships", sb)
		merge(clubSet, set)
		return err
	})
	g.Go(func() error {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("club_tier_id").From("club_memberships").Where(sb.Equal("user_id", userID), activeMembership(sb, now))
		set, err := r.idSet(gctx, "get_tier_memberships", sb)
		merge(tierSet, set)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Owners and admins reach every tier of their clubs
	if len(privileged) > 0 {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("id").From("club_tiers").Where(sb.In("club_id", sqlbuilder.Flatten(keys(privileged))...))
		set, err := r.idSet(ctx, "get_club_tiers", sb)
		if err != nil {
			return nil, nil, err
		}
		merge(tierSet, set)
		merge(clubSet, privileged)
	}

	return keys(clubSet), keys(tierSet), nil
}

// keys returns the members of set in ascending order
func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
