package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/accesscore/pkg/access"
	"github.com/platinummonkey/accesscore/pkg/httputil"
	"github.com/platinummonkey/accesscore/pkg/observability"
)

// AccessChecker decides access to a single entity
type AccessChecker interface {
	RequireAccess(ctx context.Context, t access.EntityType, id, userID int64, isModerator bool) error
}

// RequireEntityAccess guards a route whose path variable idVar names an
// entity of type t. Missing entities answer 404 and denied ones 403. Any
// other failure denies with 503.
func RequireEntityAccess(checker AccessChecker, t access.EntityType, idVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := httputil.ParsePathInt64(r, idVar)
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			var (
				userID      int64
				isModerator bool
			)
			if authCtx := GetAuthContext(r); authCtx != nil {
				userID = authCtx.UserID
				isModerator = authCtx.IsModerator
			}

			err = checker.RequireAccess(r.Context(), t, id, userID, isModerator)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, access.ErrNotFound):
				httputil.WriteNotFoundError(w, t.String()+" not found")
			case errors.Is(err, access.ErrUnauthorized):
				httputil.WriteForbidden(w, "access denied")
			default:
				observability.FromContext(r.Context()).WithError(err).
					WithField("entity_type", t.String()).
					Error("access check failed")
				httputil.WriteServiceUnavailable(w, "access check unavailable")
			}
		})
	}
}
