package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xibot/xibot/pkg/logger"
)

// Snapshot 健康端点返回的数据
type Snapshot struct {
	Status     string                 `json:"status"`
	BotID      string                 `json:"botId"`
	LastUpdate int64                  `json:"lastUpdate"` // Unix 毫秒
	Stats      map[string]interface{} `json:"stats"`
}

// Provider 由机器人实现，拉取当前状态
type Provider func() Snapshot

// Server 健康检查 HTTP 服务。
// 只暴露存活状态，不反映错误细节。
type Server struct {
	srv *http.Server
}

// NewServer 创建健康检查服务
func NewServer(addr string, provider Provider) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, provider())
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

// Start 启动服务（非阻塞）
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("健康检查服务异常退出: %v", err)
		}
	}()
	logger.Infof("💓 健康检查服务已启动 addr=%s", s.srv.Addr)
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(shutdownCtx)
}
