package cli

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/impact-eintr/fekv/httpclient"
	"github.com/impact-eintr/fekv/httpd"
	"github.com/impact-eintr/fekv/store"
)

const (
	leaderWaitTimeout  = 30 * time.Second
	appliedWaitTimeout = 30 * time.Second
)

func serveCmd(a *app) *cobra.Command {
	var httpAddr, raftAddr, dir, id, join, engine string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run a fekv node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Server
			flags := cmd.Flags()
			if flags.Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if flags.Changed("raft") {
				cfg.RaftAddr = raftAddr
			}
			if flags.Changed("dir") {
				cfg.RaftDir = dir
			}
			if flags.Changed("id") {
				cfg.NodeID = id
			}
			if flags.Changed("join") {
				cfg.JoinAddr = join
			}
			if flags.Changed("engine") {
				cfg.Engine = engine
			}
			if err := cfg.Validate(); err != nil {
				return a.fail(err)
			}

			logger := a.logger
			if !logger.IsDebug() {
				gin.SetMode(gin.ReleaseMode)
			}
			s := store.New(cfg, logger)
			defer s.Close()
			if err := s.Open(cfg.JoinAddr == "", cfg.NodeID); err != nil {
				return a.fail(err)
			}

			h := httpd.New(cfg.HTTPAddr, s, logger)
			if err := h.Start(); err != nil {
				return a.fail(err)
			}
			defer h.Close()

			ctx := cmd.Context()
			if cfg.JoinAddr != "" {
				client := httpclient.New(httpclient.DefaultConfig())
				if err := httpd.Join(ctx, client, cfg.JoinAddr, cfg.NodeID, cfg.HTTPAddr, s.RaftAddr()); err != nil {
					return a.fail(err)
				}
			} else {
				// 引导节点等选主完成后登记自己的 HTTP 地址 供其他节点重定向
				if _, err := s.WaitForLeader(leaderWaitTimeout); err != nil {
					return a.fail(err)
				}
				// 重启时先回放已有日志 再对外登记
				if err := s.WaitForApplied(appliedWaitTimeout); err != nil {
					return a.fail(err)
				}
				if s.IsLeader() {
					if err := s.SetMeta(cfg.NodeID, cfg.HTTPAddr); err != nil {
						return a.fail(err)
					}
				}
			}

			logger.Info("fekv started", "http", cfg.HTTPAddr, "raft", s.RaftAddr(), "engine", cfg.Engine)
			<-ctx.Done()
			logger.Info("fekv exiting")
			return nil
		},
	}

	c.Flags().StringVar(&httpAddr, "http", "", "HTTP bind address (default 127.0.0.1:3000)")
	c.Flags().StringVar(&raftAddr, "raft", "", "raft bind address (default 127.0.0.1:12000)")
	c.Flags().StringVar(&dir, "dir", "", "data directory (default ./data)")
	c.Flags().StringVar(&id, "id", "", "node id")
	c.Flags().StringVar(&join, "join", "", "HTTP address of an existing node to join")
	c.Flags().StringVar(&engine, "engine", "", "storage engine: bolt|lsm|leveldb|mem")
	return c
}
