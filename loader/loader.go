// Package loader replays a word list against a fekv server, one POST per
// word, with the word as both the key and the value.
package loader

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/impact-eintr/fekv/config"
	"github.com/impact-eintr/fekv/httpclient"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

type Report struct {
	Sent     int
	Failed   int
	Duration time.Duration
}

type Loader struct {
	client  *http.Client
	ring    *ring
	prefix  string
	workers int
	onError string
	logger  hclog.Logger
}

type Option func(*Loader)

// WithClient 替换默认的 http.Client
func WithClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

func WithLogger(logger hclog.Logger) Option {
	return func(l *Loader) { l.logger = logger.Named("loader") }
}

func New(cfg config.LoadConfig, opts ...Option) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(cfg.BaseURLs))
	for _, u := range cfg.BaseURLs {
		if _, err := url.Parse(u); err != nil {
			return nil, errors.Wrapf(err, "base url %q", u)
		}
		targets = append(targets, strings.TrimRight(u, "/"))
	}

	l := &Loader{
		client:  httpclient.New(httpclient.DefaultConfig().WithTimeout(cfg.Timeout)),
		ring:    newRing(targets),
		prefix:  normalizePrefix(cfg.PathPrefix),
		workers: cfg.Workers,
		onError: cfg.OnError,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}

// URL 返回某个单词对应的请求地址 {base}{prefix}{word}
func (l *Loader) URL(word string) string {
	return l.ring.locate(word) + l.prefix + url.PathEscape(word)
}

// Run 为每个单词发送一个 POST
// workers == 1 时严格按顺序发送 每个请求结束后才发下一个
func (l *Loader) Run(ctx context.Context, words []string) (Report, error) {
	start := time.Now()
	var rep Report
	var err error
	if l.workers <= 1 {
		rep, err = l.runSequential(ctx, words)
	} else {
		rep, err = l.runParallel(ctx, words)
	}
	rep.Duration = time.Since(start)

	l.logger.Info("load finished", "sent", rep.Sent, "failed", rep.Failed, "elapsed", rep.Duration)
	return rep, err
}

func (l *Loader) runSequential(ctx context.Context, words []string) (Report, error) {
	var rep Report
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := l.post(ctx, w); err != nil {
			rep.Failed++
			if l.onError == config.OnErrorAbort {
				return rep, err
			}
			l.logger.Warn("post failed, continuing", "word", w, "error", err)
			continue
		}
		rep.Sent++
	}
	return rep, nil
}

func (l *Loader) runParallel(ctx context.Context, words []string) (Report, error) {
	var (
		mu  sync.Mutex
		rep Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	for _, w := range words {
		w := w
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// 已经 abort 排队中的单词不再发送 也不计入失败
			if gctx.Err() != nil {
				return nil
			}
			err := l.post(gctx, w)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				rep.Sent++
				return nil
			}
			if gctx.Err() != nil {
				return nil
			}
			rep.Failed++
			if l.onError == config.OnErrorAbort {
				return err
			}
			l.logger.Warn("post failed, continuing", "word", w, "error", err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	return rep, ctx.Err()
}

func (l *Loader) post(ctx context.Context, word string) error {
	target := l.URL(word)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(word))
	if err != nil {
		return errors.Wrapf(err, "build request for %q", word)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := l.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %q", word)
	}
	// 读完 body 连接才能被复用
	io.Copy(ioutil.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(ErrUnexpectedStatus, "post %s: %d", target, resp.StatusCode)
	}
	l.logger.Trace("posted", "word", word, "target", target)
	return nil
}
