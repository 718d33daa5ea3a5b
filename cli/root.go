package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/impact-eintr/fekv/config"
	"github.com/impact-eintr/fekv/logging"
)

// Execute 运行根命令 任何错误都以退出码 1 结束进程
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger hclog.Logger
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	cmd := &cobra.Command{
		Use:           "fekv",
		Short:         "fekv: a toy replicated key-value store with dump and load tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (optional)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "trace|debug|info|warn|error (overrides config)")

	cmd.AddCommand(serveCmd(a), dumpCmd(a), loadCmd(a))
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		a.logger = logging.New(config.Default().Log)
		a.logger.Error("load config", "error", err)
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log)
	return nil
}

// fail 记录错误后原样返回 让 Execute 以非零状态退出
func (a *app) fail(err error) error {
	if err != nil {
		a.logger.Error(err.Error())
	}
	return err
}
