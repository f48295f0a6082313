package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sessionmux-core/internal/config/schema"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/session"
	"sessionmux-core/internal/session/store"
)

// DefaultShutdownTimeout 优雅关闭的上限
const DefaultShutdownTimeout = 30 * time.Second

// Server 组装后的服务实例
type Server struct {
	config     *schema.Root
	components []Component
	deps       *Dependencies
	logger     corelog.Logger

	ShutdownTimeout time.Duration
}

// Build 使用默认组件构建服务器
func Build(ctx context.Context, config *schema.Root) (*Server, error) {
	return NewBuilder(config).WithDefaults().Build(ctx)
}

// Manager 会话管理器
func (s *Server) Manager() *session.Manager { return s.deps.Manager }

// Store 双层存储
func (s *Server) Store() *store.DualTier { return s.deps.Store }

// Deps 组件产出，供 CLI 与测试读取
func (s *Server) Deps() *Dependencies { return s.deps }

// Start 启动组件；远端开启且本地为空时先从远端恢复，再按配置恢复会话
func (s *Server) Start(ctx context.Context) error {
	for _, c := range s.components {
		if err := c.Start(); err != nil {
			return NewComponentError(c.Name(), err)
		}
	}

	if s.deps.Store.RemoteEnabled() {
		records, err := s.deps.Store.ListAll(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			res, err := s.deps.Store.RestoreAllFromRemote(ctx)
			if err != nil {
				s.logger.WithError(err).Warnf("Server: restore from remote failed, starting with empty cache")
			} else {
				s.logger.Infof("Server: restored %d/%d sessions from remote", res.Restored, res.Total)
			}
		}
	}

	if s.config.Session.ResumeOnStart {
		if _, err := s.deps.Manager.Resume(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop 停止全部会话、推送挂起的同步，再逆序关闭组件
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.deps.Manager != nil {
		err = s.deps.Manager.Shutdown(ctx)
	}
	stopAll(s.components, s.logger)
	s.logger.Infof("Server: shutdown completed")
	return err
}

// Run 启动后阻塞到 ctx 结束或收到 SIGINT/SIGTERM，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		s.Stop(context.Background())
		if ctx.Err() != nil {
			s.logger.Infof("Server: startup aborted, context done")
			return nil
		}
		return err
	}
	s.logger.Infof("Server: running (instance=%s)", s.config.Instance.ID)

	<-ctx.Done()
	s.logger.Infof("Server: shutting down")

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}
