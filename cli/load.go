package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/impact-eintr/fekv/loader"
)

func loadCmd(a *app) *cobra.Command {
	var (
		dict    string
		urls    []string
		prefix  string
		workers int
		onError string
		timeout time.Duration
	)

	c := &cobra.Command{
		Use:   "load",
		Short: "POST every word of a dictionary file to a fekv server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Load
			flags := cmd.Flags()
			if flags.Changed("dict") {
				cfg.DictPath = dict
			}
			if flags.Changed("url") {
				cfg.BaseURLs = urls
			}
			if flags.Changed("prefix") {
				cfg.PathPrefix = prefix
			}
			if flags.Changed("workers") {
				cfg.Workers = workers
			}
			if flags.Changed("on-error") {
				cfg.OnError = onError
			}
			if flags.Changed("timeout") {
				cfg.Timeout = timeout
			}

			words, err := loader.ReadWordsFile(cfg.DictPath)
			if err != nil {
				return a.fail(err)
			}

			l, err := loader.New(cfg, loader.WithLogger(a.logger))
			if err != nil {
				return a.fail(err)
			}
			if _, err := l.Run(cmd.Context(), words); err != nil {
				return a.fail(err)
			}
			return nil
		},
	}

	c.Flags().StringVarP(&dict, "dict", "d", "", "dictionary file (default /usr/share/dict/words)")
	c.Flags().StringSliceVarP(&urls, "url", "u", nil, "base url of a fekv server, repeatable")
	c.Flags().StringVar(&prefix, "prefix", "", "path prefix (default /fekv/)")
	c.Flags().IntVarP(&workers, "workers", "w", 1, "concurrent requests, 1 keeps file order")
	c.Flags().StringVar(&onError, "on-error", "", "abort|continue on a failed request")
	c.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout")
	return c
}
