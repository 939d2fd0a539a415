package hecart

import (
	"go.uber.org/zap"
)

// NewLogger builds the command-line logger. Logs go to stderr so command
// output on stdout stays clean.
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
