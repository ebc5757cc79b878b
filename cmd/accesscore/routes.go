package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/accesscore/pkg/access"
	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/httputil"
	"github.com/platinummonkey/accesscore/pkg/middleware"
	"github.com/platinummonkey/accesscore/pkg/oauth"
	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/sirupsen/logrus"
)

// invalidateScope lets a service drop users' cached private-access closures
const invalidateScope auth.Scope = "access:invalidate"

// closureInvalidator drops cached private-access closures
type closureInvalidator interface {
	InvalidateMany(ctx context.Context, userIDs []int64) error
}

// apiDeps are the components behind the public API
type apiDeps struct {
	logger       *logrus.Logger
	metrics      *observability.Metrics
	oauth        *oauth.Server
	users        middleware.ModeratorLookup
	limiter      *middleware.RateLimiter
	service      *access.Service
	requirements access.ClubRequirementReader
	cache        *access.PrivateCache
}

// newAPIRouter builds the public router. Handlers register absolute paths,
// so the groups below only scope middleware and never add a path prefix.
func newAPIRouter(d apiDeps) *mux.Router {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(d.logger),
		httputil.RecoveryMiddleware(d.logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)))
	router.Use(observability.HTTPMetricsMiddleware(d.metrics))

	tokenRoutes := router.NewRoute().Subrouter()
	tokenRoutes.Use(middleware.NewRateLimitMiddleware(d.limiter).Handler)
	oauth.NewHandlers(d.oauth).RegisterRoutes(tokenRoutes)

	accessRoutes := router.NewRoute().Subrouter()
	accessRoutes.Use(middleware.NewAuthMiddleware(d.oauth, d.users, true, d.logger).Handler)
	access.NewHandlers(d.service, d.requirements, d.cache).RegisterRoutes(accessRoutes)
	registerEntityGuards(accessRoutes, d.service)
	registerInvalidation(accessRoutes, d.cache)

	return router
}

// registerEntityGuards mounts GET /access/entities/{type}/{id} for every
// entity type. Each answers 204 when the caller may see the entity, for
// content services that gate on this core over HTTP.
func registerEntityGuards(router *mux.Router, checker middleware.AccessChecker) {
	allowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for _, t := range access.EntityTypes {
		path := "/access/entities/" + strings.ToLower(t.String()) + "/{id}"
		router.Handle(path, middleware.RequireEntityAccess(checker, t, "id")(allowed)).
			Methods(http.MethodGet, http.MethodHead)
	}
}

type invalidateRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

// registerInvalidation mounts POST /access/private/invalidate for callers
// holding invalidateScope, e.g. the service that edits club memberships
func registerInvalidation(router *mux.Router, cache closureInvalidator) {
	invalidate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invalidateRequest
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
		if len(req.UserIDs) == 0 {
			httputil.WriteBadRequest(w, "user_ids is required")
			return
		}
		if err := cache.InvalidateMany(r.Context(), req.UserIDs); err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("private cache invalidation failed")
			httputil.WriteServiceUnavailable(w, "private cache unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/access/private/invalidate", middleware.RequireScope(invalidateScope)(invalidate)).
		Methods(http.MethodPost)
}
