package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/hub"
	"github.com/Kaping/blockshare/internal/reaper"
	"github.com/Kaping/blockshare/internal/registry"
)

// ReapHandler is the thin asynq adapter around reaper.Sweep -- the reap
// logic itself stays a directly callable, unit-testable function.
type ReapHandler struct {
	registry *registry.Registry
	hub      *hub.Hub
	userTTL  time.Duration
}

func NewReapHandler(reg *registry.Registry, h *hub.Hub, userTTL time.Duration) *ReapHandler {
	if reg == nil {
		panic("Registry cannot be nil for ReapHandler")
	}
	if h == nil {
		panic("Hub cannot be nil for ReapHandler")
	}
	return &ReapHandler{registry: reg, hub: h, userTTL: userTTL}
}

func (h *ReapHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logrus.WithField("task_type", t.Type()).Debug("processing periodic reap task")
	reaper.Sweep(ctx, h.registry, h.hub, h.userTTL)
	return nil
}
