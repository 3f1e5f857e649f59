package server

import (
	"fmt"
	"net/http"
	"time"

	"talent/internal/cache"
	"talent/internal/config"
	"talent/internal/controller"
	"talent/internal/database"
	"talent/internal/docstore"
	"talent/internal/notify"
	"talent/internal/orchestrator"
	"talent/internal/rabbitmq"
)

type Server struct {
	sc     controller.ServerController
	ic     controller.ImportController
	config config.Config
}

func New(config config.Config, db database.Database, cache cache.Cache, rabbit rabbitmq.Client, subscriber notify.Subscriber, docs docstore.DocumentStore, orch *orchestrator.Orchestrator) *http.Server {
	sc := controller.NewServer(db, cache, rabbit, docs)
	ic := controller.NewImportController(db, cache, subscriber, orch, config.Import)

	server := Server{
		sc:     sc,
		ic:     ic,
		config: config,
	}

	return &http.Server{
		Addr:        fmt.Sprintf(":%v", config.Port),
		Handler:     server.RegisterRoutes(),
		IdleTimeout: time.Minute,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the event stream holds connections open
	}
}
