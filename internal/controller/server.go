package controller

import (
	"context"

	"talent/internal/cache"
	"talent/internal/database"
	"talent/internal/docstore"
	"talent/internal/rabbitmq"
)

type ServerController interface {
	DBHealth() error
	CacheHealth() error
	RabbitHealth() error
	DocStoreHealth() error
	Online() string
}

type serverController struct {
	db     database.Database
	cache  cache.Cache
	rabbit rabbitmq.Client
	docs   docstore.DocumentStore
}

func NewServer(db database.Database, cache cache.Cache, rabbit rabbitmq.Client, docs docstore.DocumentStore) ServerController {
	return &serverController{
		db:     db,
		cache:  cache,
		rabbit: rabbit,
		docs:   docs,
	}
}

func (sc *serverController) Online() string {
	return "Online"
}

func (sc *serverController) DBHealth() error {
	return sc.db.Health()
}

func (sc *serverController) CacheHealth() error {
	return sc.cache.Ping(context.TODO())
}

func (sc *serverController) RabbitHealth() error {
	return sc.rabbit.Health()
}

func (sc *serverController) DocStoreHealth() error {
	return sc.docs.Health()
}
