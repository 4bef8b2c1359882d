// Package handlers contains reusable HTTP building blocks: health checks and
// gin middleware.
//
// # Health Checks
//
// The HealthChecker runs every registered check in parallel with a per-check timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("postgres", conn.Health)
//	checker.AddCheck("redis", cache.Ping)
//
//	status := checker.Check(ctx)
//
// # Middleware
//
// RequestID, Logging and Recovery are installed on every route:
//
//	engine.Use(handlers.RequestID(), handlers.Recovery(log), handlers.Logging(log))
package handlers
