// Package shutdown 编排应用程序的优雅停机流程。
package shutdown

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/lifecycle"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
)

const defaultServiceTimeout = 30 * time.Second

// Closer 是停机最后阶段需要释放的资源，例如数据库和Redis连接
type Closer struct {
	Name  string
	Close func() error
}

// Coordinator 负责编排停机：先停止HTTP服务，再通知后台服务，最后释放资源
type Coordinator struct {
	manager        *lifecycle.Manager
	httpTimeout    time.Duration
	serviceTimeout time.Duration
	closers        []Closer
	log            logger.Logger
}

// NewCoordinator 创建停机协调器，httpTimeout 是等待进行中请求完成的上限
func NewCoordinator(manager *lifecycle.Manager, httpTimeout time.Duration, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		manager:        manager,
		httpTimeout:    httpTimeout,
		serviceTimeout: defaultServiceTimeout,
		log:            log,
	}
}

// AddCloser 注册一个在最后阶段按注册的逆序关闭的资源
func (c *Coordinator) AddCloser(name string, fn func() error) {
	c.closers = append(c.closers, Closer{Name: name, Close: fn})
}

// ListenForSignalsAndShutdown 阻塞直到收到 SIGINT/SIGTERM，然后执行停机
func (c *Coordinator) ListenForSignalsAndShutdown(server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	c.log.Info(context.Background(), "收到关闭信号，开始优雅停机", logger.String("signal", sig.String()))
	c.Shutdown(server)
}

// Shutdown 依次关闭HTTP服务器、后台服务和资源
func (c *Coordinator) Shutdown(server *http.Server) {
	ctx := context.Background()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
		err := server.Shutdown(shutdownCtx)
		cancel()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error(ctx, "HTTP服务器关闭错误", logger.Error(err))
		} else {
			c.log.Info(ctx, "HTTP服务器已关闭")
		}
	}

	if c.manager != nil {
		c.manager.Shutdown()
		if remaining := c.manager.WaitWithTimeout(c.serviceTimeout); len(remaining) > 0 {
			c.log.Warn(ctx, "部分后台服务未能按时退出", logger.Any("services", remaining))
		} else {
			c.log.Info(ctx, "所有后台服务已退出")
		}
	}

	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.Close(); err != nil {
			c.log.Error(ctx, "资源关闭失败", logger.String("resource", cl.Name), logger.Error(err))
		}
	}

	c.log.Info(ctx, "优雅停机完成")
}
