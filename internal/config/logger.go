package config

import (
	"go.uber.org/zap"
)

// NewLogger returns a console logger in development and JSON otherwise.
func NewLogger(cfg AppConfig) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
