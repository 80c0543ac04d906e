package handlers

import (
	"github.com/concordia/import-service/internal/batch"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
)

// API bundles the dependencies the HTTP handlers need.
type API struct {
	store     *database.Store
	queue     *taskqueue.TaskQueue
	scheduler *batch.Scheduler
}

// New creates the handler set.
func New(store *database.Store, queue *taskqueue.TaskQueue, scheduler *batch.Scheduler) *API {
	return &API{
		store:     store,
		queue:     queue,
		scheduler: scheduler,
	}
}
