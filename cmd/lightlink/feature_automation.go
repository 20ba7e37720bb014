//go:build !no_automation

package main

import (
	"log/slog"

	"github.com/KongGithubDev/LightLink/internal/automation"
	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(d *core.Dispatcher, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.Automation.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "dir", cfg.Automation.ScriptsDir, "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(d, scriptMgr, logger)
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{web.WithAutomation(engine)}
}
