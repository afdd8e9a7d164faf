package bootstrap

import (
	"mailsort_server/adapter/in/worker"
	"mailsort_server/config"
)

// NewScheduler builds the background monitor scheduler.
func NewScheduler(cfg *config.Config, deps *Dependencies) *worker.MonitorScheduler {
	return worker.NewMonitorScheduler(deps.Monitor, cfg.MonitorInterval())
}
