package main

import (
	"context"
	"log"

	"github.com/jonboulle/clockwork"

	"github.com/agrisol/analytics-backend-go/internal/aggregate"
	"github.com/agrisol/analytics-backend-go/internal/api"
	"github.com/agrisol/analytics-backend-go/internal/config"
	"github.com/agrisol/analytics-backend-go/internal/database"
	"github.com/agrisol/analytics-backend-go/internal/event"
	"github.com/agrisol/analytics-backend-go/internal/handler"
	"github.com/agrisol/analytics-backend-go/internal/repository"
	"github.com/agrisol/analytics-backend-go/internal/service"
)

func main() {
	cfg := config.Load()

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	if err := database.NewMigrationManager(db, cfg.MigrationsPath).RunMigrations(); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	clock := clockwork.NewRealClock()
	events := repository.NewEventRepository(db)
	aggs := repository.NewAggregateRepository(db)

	maintainer := aggregate.NewMaintainer(db, events, aggs, clock)
	reconciler := aggregate.NewReconciler(db, events, aggs, clock)
	reconciliation := service.NewReconciliationService(reconciler, clock, cfg.ReconcileInterval)
	maintainer.OnDrift(func(string) { reconciliation.Request() })

	dispatcher := event.NewDispatcher()
	dispatcher.Subscribe(maintainer)
	if cfg.RabbitURL != "" {
		publisher, err := event.NewQueuePublisher(cfg.RabbitURL)
		if err != nil {
			log.Printf("Queue publisher disabled: %v", err)
		} else {
			defer publisher.Close()
			dispatcher.Subscribe(publisher)
		}
	}

	scanService := service.NewScanService(events, dispatcher, clock, int64(cfg.ClockSkew.Seconds()))
	analyticsService := service.NewAnalyticsService(aggs, events)
	analyticsService.OnDrift(reconciliation.Request)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reconciliation.Run(ctx)

	router := api.SetupRouter(api.Handlers{
		Scan:      handler.NewScanHandler(scanService),
		Analytics: handler.NewAnalyticsHandler(analyticsService),
		Admin:     handler.NewAdminHandler(reconciliation),
	})

	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
