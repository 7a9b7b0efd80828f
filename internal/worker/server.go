package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/tasks"
)

// Server wraps the asynq worker server that runs the reap handler.
type Server struct {
	server *asynq.Server
	log    *logrus.Entry
	reap   *ReapHandler
}

func NewServer(redisOpt asynq.RedisClientOpt, reap *ReapHandler, logger *logrus.Logger) *Server {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logEntry.WithField("task_type", task.Type()).Errorf("task failed: %v", err)
			}),
		},
	)

	return &Server{server: server, log: logEntry, reap: reap}
}

// Start runs the worker server. It should be called from its own goroutine.
func (ws *Server) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeReap, ws.reap.ProcessTask)

	ws.log.Info("worker server starting")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("could not run worker server: %v", err)
		}
		ws.log.Info("worker server stopped")
	}
}

func (ws *Server) Shutdown() {
	ws.log.Info("shutting down worker server")
	ws.server.Shutdown()
}
