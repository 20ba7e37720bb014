//go:build no_mqtt

package main

import (
	"log/slog"

	"github.com/KongGithubDev/LightLink/internal/core"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *core.Dispatcher, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
