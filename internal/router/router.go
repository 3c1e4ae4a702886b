package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/rollcall-app/rollcall/internal/config"
	"github.com/rollcall-app/rollcall/internal/handler"
	"github.com/rollcall-app/rollcall/internal/middleware"
)

// RegisterRoutes registers the health check and the clock query.  Both
// are unauthenticated and unconditional: the clock endpoint in particular
// must stay reachable even when the database is down, since clients sync
// their offset against it on every reconnect.
func RegisterRoutes(e *echo.Echo, a *handler.AttendanceHandler) {
	e.GET("/healthz", handler.Health)
	e.GET("/v1/time", a.ServerTime)
}

// RegisterAttendance registers the occurrence-scoped attendance API.  The
// roster GET runs behind the Redis response cache when one is configured;
// submissions and the websocket subscription never cache.
func RegisterAttendance(e *echo.Echo, a *handler.AttendanceHandler, cacheCfg config.CacheConfig, redisClient *redis.Client) {
	g := e.Group("/v1/events/:id/occurrences/:date")
	g.GET("/roster", a.GetRoster, middleware.RosterCache(cacheCfg, redisClient))
	g.POST("/attendance", a.Submit)
	g.POST("/visitors", a.CreateVisitor)
	g.GET("/ws", a.Subscribe)
}

// RegisterPeople registers roster-membership endpoints.
func RegisterPeople(e *echo.Echo, p *handler.PeopleHandler) {
	g := e.Group("/v1/events/:id/people")
	g.GET("", p.List)
	g.POST("", p.Create)
}
