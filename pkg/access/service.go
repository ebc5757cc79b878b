package access

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/accesscore/pkg/access"

// Decision paths, reported as the path label of the decisions metric
const (
	pathModerator = "moderator"
	pathOpen      = "open"
	pathOwner     = "owner"
	pathAnonymous = "anonymous"
	pathResolved  = "resolved"
)

// AvailabilityReader loads availability and ownership for a batch of entities
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, t EntityType, ids []int64) ([]EntityAvailability, error)
}

// GrantResolver decides which private entities a user reaches through grants
type GrantResolver interface {
	ResolvePrivateAccess(ctx context.Context, t EntityType, ids []int64, userID int64) (map[int64]struct{}, error)
}

// Service makes batched access decisions
type Service struct {
	registry AvailabilityReader
	resolver GrantResolver
	log      *logrus.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithServiceLogger sets the logger
func WithServiceLogger(log *logrus.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithServiceMetrics sets the metrics sink
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a decision service
func NewService(registry AvailabilityReader, resolver GrantResolver, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		resolver: resolver,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	return s
}

// HasAccess returns one decision per requested id found in the registry, in
// first-occurrence order of the request. Ids missing from the registry are
// omitted and must be treated as inaccessible. On error no decisions are
// returned.
func (s *Service) HasAccess(ctx context.Context, req Request) (decisions []Decision, err error) {
	if !req.EntityType.Valid() {
		return nil, ErrUnknownEntityType
	}
	entityType := req.EntityType.String()

	ctx, span := s.tracer.Start(ctx, "access.HasAccess", trace.WithAttributes(
		attribute.String("access.entity_type", entityType),
		attribute.Int("access.entity_count", len(req.EntityIDs)),
		attribute.Bool("access.moderator", req.IsModerator),
		attribute.Bool("access.authenticated", req.UserID > 0),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "access decision failed")
			s.storageError(err)
		}
		s.metrics.ObserveDecision(entityType, time.Since(start))
		span.End()
	}()

	ids := uniqueIDs(req.EntityIDs)
	if len(ids) == 0 {
		return []Decision{}, nil
	}

	rows, err := s.registry.GetAvailability(ctx, req.EntityType, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[int64]EntityAvailability, len(rows))
	for _, row := range rows {
		found[row.EntityID] = row
	}

	decisions = make([]Decision, 0, len(found))
	for _, id := range ids {
		if row, ok := found[id]; ok {
			decisions = append(decisions, Decision{EntityID: id, Availability: row.Availability})
		}
	}

	switch {
	case req.IsModerator:
		return s.grantAll(decisions, entityType, pathModerator), nil
	case allOpen(decisions):
		return s.grantAll(decisions, entityType, pathOpen), nil
	case req.UserID > 0 && ownsAll(decisions, found, req.UserID):
		return s.grantAll(decisions, entityType, pathOwner), nil
	}

	var pending []int64
	for i := range decisions {
		d := &decisions[i]
		switch {
		case d.Availability.Open():
			d.HasAccess = true
		case req.UserID > 0 && found[d.EntityID].OwnerUserID == req.UserID:
			d.HasAccess = true
		case req.UserID > 0:
			pending = append(pending, d.EntityID)
		}
	}

	if req.UserID <= 0 {
		s.metrics.RecordDecisions(entityType, pathAnonymous, len(decisions))
		return decisions, nil
	}
	if len(pending) == 0 {
		s.metrics.RecordDecisions(entityType, pathOwner, len(decisions))
		return decisions, nil
	}

	reachable, err := s.resolver.ResolvePrivateAccess(ctx, req.EntityType, pending, req.UserID)
	if err != nil {
		return nil, err
	}
	for i := range decisions {
		if _, ok := reachable[decisions[i].EntityID]; ok {
			decisions[i].HasAccess = true
		}
	}

	s.metrics.RecordDecisions(entityType, pathResolved, len(decisions))
	s.log.WithFields(logrus.Fields{
		"entity_type": entityType,
		"user_id":     req.UserID,
		"resolved":    len(pending),
		"reachable":   len(reachable),
	}).Debug("private access resolved")
	return decisions, nil
}

// RequireAccess checks a single entity. It returns ErrNotFound when the
// entity is missing and ErrUnauthorized when access is denied.
func (s *Service) RequireAccess(ctx context.Context, t EntityType, id, userID int64, isModerator bool) error {
	decisions, err := s.HasAccess(ctx, Request{
		EntityType:  t,
		EntityIDs:   []int64{id},
		UserID:      userID,
		IsModerator: isModerator,
	})
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		return ErrNotFound
	}
	if !decisions[0].HasAccess {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) grantAll(decisions []Decision, entityType, path string) []Decision {
	for i := range decisions {
		decisions[i].HasAccess = true
	}
	s.metrics.RecordDecisions(entityType, path, len(decisions))
	return decisions
}

func (s *Service) storageError(err error) {
	var opErr *storage.OpError
	if errors.As(err, &opErr) {
		s.metrics.RecordStorageError(opErr.Op, opErr.Backend)
	}
}

func allOpen(decisions []Decision) bool {
	for _, d := range decisions {
		if !d.Availability.Open() {
			return false
		}
	}
	return true
}

func ownsAll(decisions []Decision, found map[int64]EntityAvailability, userID int64) bool {
	for _, d := range decisions {
		if found[d.EntityID].OwnerUserID != userID {
			return false
		}
	}
	return true
}
