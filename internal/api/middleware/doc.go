// Package middleware holds the gin middleware in front of the process API:
// request ids, CORS, per-client rate limiting, request logging and panic
// recovery.
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.Logger(logger), middleware.Recovery(logger))
//	router.Use(middleware.CORS(middleware.CORSFor(cfg.Server.CORSOrigins)))
//	router.Use(middleware.RateLimit(middleware.RateLimitFrom(cfg.RateLimit)))
package middleware
