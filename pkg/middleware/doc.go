// Package middleware provides HTTP middleware for bearer authentication,
// entity access guards, and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: Bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(oauthServer, users, true, logger)
//	router.Use(authMW.Handler)
//	// Resolves the token, looks up the moderator flag, adds auth.AuthContext
//
// RequireAuth and RequireScope reject requests without an identity or
// without the named scope.
//
// RequireEntityAccess: per-entity guard backed by the access service
//
//	guard := middleware.RequireEntityAccess(accessService, access.EntityModel, "id")
//	router.Handle("/models/{id}", guard(modelHandler))
//
// RateLimitMiddleware: Redis-backed fixed window per client IP
//
//	limiter := middleware.NewRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "ratelimit:token")
//	tokenRouter.Use(middleware.NewRateLimitMiddleware(limiter).Handler)
//
// The limiter fails open when Redis is unreachable.
//
// # Related Packages
//
//   - pkg/oauth: Token resolution
//   - pkg/access: Access decisions
package middleware
