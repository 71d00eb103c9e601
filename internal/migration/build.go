package migration

import (
	"log/slog"

	"github.com/brensch/migrobot/internal/archive"
	"github.com/brensch/migrobot/internal/checks"
	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/jobrunner"
	"github.com/brensch/migrobot/internal/layout"
	"github.com/brensch/migrobot/internal/lifecycle"
	"github.com/brensch/migrobot/internal/migtype"
	"github.com/brensch/migrobot/internal/reconcile"
	"github.com/brensch/migrobot/internal/util"
)

// Build wires the production collaborators for one kind, all logging to
// logger.
func Build(kind migtype.Kind, cfg config.Config, exec util.Executor, uploader Uploader, observer Observer, sftpProd bool, logger *slog.Logger) *Orchestrator {
	resolver := layout.New(cfg)
	return New(kind, cfg, resolver, Deps{
		Checker:    checks.New(cfg, resolver, logger),
		Archives:   archive.New(cfg, exec, logger),
		Jobs:       jobrunner.New(cfg, exec, logger),
		Reconciler: reconcile.New(cfg.Reconcile, logger),
		Lifecycle:  lifecycle.New(logger),
		Uploader:   uploader,
		Observer:   observer,
	}, sftpProd, logger)
}
