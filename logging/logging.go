package logging

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/impact-eintr/fekv/config"
)

// New 构造根 logger 各组件通过 Named 派生 raft 也共用同一个实例
func New(cfg config.LogConfig) hclog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LogConfig, w io.Writer) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "fekv",
		Level:      level,
		Output:     w,
		JSONFormat: cfg.JSON,
	})
}
