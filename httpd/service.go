package httpd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/impact-eintr/fekv/store"
)

type Store interface {
	Get(key string, lvl store.ConsistencyLevel) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Join(nodeID string, httpAddress string, addr string) error
	LeaderAPIAddr() string
}

const index = `<html><head><title>fekv</title></head><body><h1>fekv</h1>A Toy Key Value store! <br /><br />
Try PUT/POSTing data to <code>/fekv/{key}</code> then GETing it back. <br /> <br />
<pre>
$ curl --fail -X 'PUT' localhost:3000/fekv/foo -d 'bar'
$ curl --fail -X 'GET' localhost:3000/fekv/foo
$ curl --fail -X 'DELETE' localhost:3000/fekv/foo
$ curl --fail -X 'GET' localhost:3000/fekv/foo
</pre></body></html>`

const okBody = "OK"

type Service struct {
	addr   string
	ln     net.Listener
	server *http.Server

	store  Store
	logger hclog.Logger
}

// FormRedirect returns the value for the "Location" header for a 307 response.
// 使用转义后的路径 key 中的 ? # 等字符不会被 leader 当成 query
func (s *Service) FormRedirect(r *http.Request, host string) string {
	protocol := "http"
	rq := r.URL.RawQuery
	if rq != "" {
		rq = fmt.Sprintf("?%s", rq)
	}
	return fmt.Sprintf("%s://%s%s%s", protocol, host, r.URL.EscapedPath(), rq)
}

func New(addr string, store Store, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		addr:   addr,
		store:  store,
		logger: logger.Named("httpd"),
	}
}

func (s *Service) Start() error {
	s.server = &http.Server{
		Handler: s.newRouter(),
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		err := s.server.Serve(s.ln)
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", s.Addr().String())
	return nil
}

// Close 优雅关闭 最多等待 5 秒让进行中的请求结束
func (s *Service) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the address on which the Service is listening
func (s *Service) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Service) newRouter() (r *gin.Engine) {
	r = gin.New()
	r.Use(s.requestLogger(), gin.Recovery())

	r.GET("/", s.IndexHandler())
	r.GET("/index.html", s.IndexHandler())

	r.GET("/hello", s.HelloHandler())
	r.GET("/hello/:name", s.HelloHandler())

	kvGroup := r.Group("/fekv")
	{
		kvGroup.GET("/*key", s.GetKeyHandler())
		kvGroup.PUT("/*key", s.SetKeyHandler())
		kvGroup.POST("/*key", s.SetKeyHandler())
		kvGroup.DELETE("/*key", s.DelKeyHandler())
	}

	r.POST("/join", s.JoinHandler())

	r.NoRoute(func(ctx *gin.Context) {
		if ctx.Request.URL.Path != "/favicon.ico" {
			s.logger.Debug("unknown route, returning 404", "path", ctx.Request.URL.Path)
		}
		ctx.Status(http.StatusNotFound)
	})

	return r
}

func (s *Service) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		if ctx.Request.URL.Path == "/favicon.ico" {
			return
		}
		s.logger.Debug("request",
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"client", ctx.ClientIP(),
			"status", ctx.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

func level(req *http.Request) store.ConsistencyLevel {
	q := req.URL.Query()
	lvl := strings.TrimSpace(q.Get("level"))

	switch strings.ToLower(lvl) {
	case "stale":
		return store.Stale
	case "consistent":
		return store.Consistent
	default:
		return store.Default
	}
}

// keyParam 取出 /fekv/ 之后的全部路径作为 key 例如 /fekv/a/b -> a/b
func keyParam(ctx *gin.Context) string {
	return strings.TrimPrefix(ctx.Param("key"), "/")
}

// leaderRedirect 在非 leader 节点上把请求转发到 leader 的 HTTP 地址
func (s *Service) leaderRedirect(ctx *gin.Context) {
	leader := s.store.LeaderAPIAddr()
	if leader == "" {
		ctx.String(http.StatusServiceUnavailable, store.ErrNotLeader.Error())
		return
	}
	redirect := s.FormRedirect(ctx.Request, leader)
	ctx.Redirect(http.StatusTemporaryRedirect, redirect)
}

func (s *Service) IndexHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Data(http.StatusOK, "text/html; charset=utf-8", []byte(index))
	}
}

func (s *Service) HelloHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		name := ctx.Param("name")
		if name == "" {
			name = "World"
		}
		ctx.String(http.StatusOK, "Hello %s!", name)
	}
}

/* Key-Value存储 */

// 默认返回 Default 一致性级别的Key
func (s *Service) GetKeyHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		k := keyParam(ctx)
		if k == "" {
			ctx.Status(http.StatusBadRequest)
			return
		}

		v, err := s.store.Get(k, level(ctx.Request))
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotLeader):
				s.leaderRedirect(ctx)
			case errors.Is(err, store.ErrKeyNotFound):
				ctx.Status(http.StatusNotFound)
			default:
				s.logger.Error("get failed", "key", k, "error", err)
				ctx.String(http.StatusInternalServerError, err.Error())
			}
			return
		}
		ctx.Status(http.StatusOK)
		io.Copy(ctx.Writer, bytes.NewReader(v))
	}
}

func (s *Service) SetKeyHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		k := keyParam(ctx)
		if k == "" {
			ctx.Status(http.StatusBadRequest)
			return
		}
		b, err := ioutil.ReadAll(ctx.Request.Body)
		if err != nil {
			ctx.String(http.StatusBadRequest, err.Error())
			return
		}

		if err := s.store.Set(k, b); err != nil {
			if errors.Is(err, store.ErrNotLeader) {
				s.leaderRedirect(ctx)
				return
			}
			s.logger.Error("set failed", "key", k, "error", err)
			ctx.String(http.StatusInternalServerError, err.Error())
			return
		}
		ctx.String(http.StatusOK, okBody)
	}
}

func (s *Service) DelKeyHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		k := keyParam(ctx)
		if k == "" {
			ctx.Status(http.StatusBadRequest)
			return
		}

		if err := s.store.Delete(k); err != nil {
			if errors.Is(err, store.ErrNotLeader) {
				s.leaderRedirect(ctx)
				return
			}
			s.logger.Error("delete failed", "key", k, "error", err)
			ctx.String(http.StatusInternalServerError, err.Error())
			return
		}
		ctx.String(http.StatusOK, okBody)
	}
}

type joinRequest struct {
	ID       string `json:"id" binding:"required"`
	HTTPAddr string `json:"httpAddr" binding:"required"`
	RaftAddr string `json:"raftAddr" binding:"required"`
}

func (s *Service) JoinHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req joinRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.String(http.StatusBadRequest, err.Error())
			return
		}

		if err := s.store.Join(req.ID, req.HTTPAddr, req.RaftAddr); err != nil {
			if errors.Is(err, store.ErrNotLeader) {
				s.leaderRedirect(ctx)
				return
			}
			ctx.String(http.StatusInternalServerError, err.Error())
			return
		}
		ctx.String(http.StatusOK, okBody)
	}
}
