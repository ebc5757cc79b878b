package access

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/httputil"
	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/storage"
)

// maxCheckIDs bounds the batch size of a single check request
const maxCheckIDs = 1000

// ClubRequirementReader answers which clubs gate a set of entities
type ClubRequirementReader interface {
	EntitiesRequiringClub(ctx context.Context, t EntityType, ids []int64, clubIDs []int64) ([]ClubRequirement, error)
}

// Handlers exposes access decisions over HTTP
type Handlers struct {
	service      *Service
	requirements ClubRequirementReader
	cache        *PrivateCache
}

// NewHandlers creates access handlers
func NewHandlers(service *Service, requirements ClubRequirementReader, cache *PrivateCache) *Handlers {
	return &Handlers{
		service:      service,
		requirements: requirements,
		cache:        cache,
	}
}

// RegisterRoutes registers the access routes. /access/private requires the
// bearer middleware to have run.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/access/check", h.check).Methods(http.MethodPost)
	router.HandleFunc("/access/requirements", h.clubRequirements).Methods(http.MethodGet)
	router.HandleFunc("/access/private", h.private).Methods(http.MethodGet)
}

type checkRequest struct {
	EntityType EntityType `json:"entity_type"`
	EntityIDs  []int64    `json:"entity_ids"`
}

type checkResponse struct {
	Results []Decision `json:"results"`
}

func (h *Handlers) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.EntityType.Valid() {
		httputil.WriteBadRequest(w, "entity_type is required")
		return
	}
	if len(req.EntityIDs) > maxCheckIDs {
		httputil.WriteBadRequest(w, "too many entity_ids")
		return
	}

	decisionReq := Request{EntityType: req.EntityType, EntityIDs: req.EntityIDs}
	if authCtx := auth.FromContext(r.Context()); authCtx != nil {
		decisionReq.UserID = authCtx.UserID
		decisionReq.IsModerator = authCtx.IsModerator
	}

	decisions, err := h.service.HasAccess(r.Context(), decisionReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, checkResponse{Results: decisions})
}

type requirementsResponse struct {
	Requirements []ClubRequirement `json:"requirements"`
}

func (h *Handlers) clubRequirements(w http.ResponseWriter, r *http.Request) {
	entityType, err := ParseEntityType(r.URL.Query().Get("entity_type"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	ids, err := httputil.ParseQueryInt64List(r, "entity_ids")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if len(ids) > maxCheckIDs {
		httputil.WriteBadRequest(w, "too many entity_ids")
		return
	}
	clubIDs, err := httputil.ParseQueryInt64List(r, "club_ids")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	reqs, err := h.requirements.EntitiesRequiringClub(r.Context(), entityType, ids, clubIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []ClubRequirement{}
	}
	httputil.WriteJSON(w, http.StatusOK, requirementsResponse{Requirements: reqs})
}

type privateResponse struct {
	UserID   int64       `json:"user_id"`
	Entities []EntityKey `json:"entities"`
}

func (h *Handlers) private(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	refresh, err := httputil.ParseQueryBool(r, "refresh", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	keys, err := h.cache.GetReachableEntities(r.Context(), authCtx.UserID, refresh)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []EntityKey{}
	}
	httputil.WriteJSON(w, http.StatusOK, privateResponse{UserID: authCtx.UserID, Entities: keys})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownEntityType):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		observability.FromContext(r.Context()).WithError(err).Error("access backend unavailable")
		httputil.WriteServiceUnavailable(w, "access backend unavailable")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("access request failed")
		httputil.WriteInternalError(w)
	}
}
