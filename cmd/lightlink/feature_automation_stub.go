//go:build no_automation

package main

import (
	"log/slog"

	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *core.Dispatcher, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
