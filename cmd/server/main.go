package main // Entry point for the attendance server

import (
	"context"
	"log"

	"github.com/labstack/echo/v4"

	"github.com/rollcall-app/rollcall/internal/config"
	"github.com/rollcall-app/rollcall/internal/database"
	"github.com/rollcall-app/rollcall/internal/handler"
	"github.com/rollcall-app/rollcall/internal/hub"
	"github.com/rollcall-app/rollcall/internal/queue"
	"github.com/rollcall-app/rollcall/internal/repository"
	"github.com/rollcall-app/rollcall/internal/router"
)

func main() {
	cfg := config.LoadServer()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.EnsureSchema(context.Background(), db); err != nil {
		log.Fatalf("database: %v", err)
	}

	redisClient := config.NewRedisClient()
	if redisClient == nil {
		log.Printf("redis unavailable, roster response cache disabled")
	}

	h := hub.New()
	go queue.StartAttendanceConsumer(h)

	attendance := handler.NewAttendanceHandler(
		repository.NewEventRepo(db),
		repository.NewAttendanceRepo(db),
		repository.NewVisitorRepo(db),
		h,
	)

	people := handler.NewPeopleHandler(repository.NewEventRepo(db), repository.NewPersonRepo(db))

	e := echo.New()
	router.RegisterRoutes(e, attendance)
	router.RegisterAttendance(e, attendance, config.LoadCacheConfig(), redisClient)
	router.RegisterPeople(e, people)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
