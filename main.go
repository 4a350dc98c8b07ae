package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPDirect/global"
	"PPDirect/global/config"
	"PPDirect/logger"
	mid "PPDirect/middleware"
	"PPDirect/module/chat/service"
	"PPDirect/module/presence"
	"PPDirect/service/chat"
	"PPDirect/service/chat/handlers"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := config.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Global
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1) 外部依赖：ids / 存储 / redis 镜像 / 事件出口
	rt, err := global.ConfigAll(ctx, cfg)
	if err != nil {
		logger.Error("[boot] failed", zap.Error(err))
		os.Exit(1)
	}

	// 2) 在线注册表 + 核心服务
	popts := []presence.Option{presence.WithSink(rt.Sink), presence.WithPersistTimeout(cfg.Chat.HandleTimeout)}
	if rt.Mirror != nil {
		popts = append(popts, presence.WithMirror(rt.Mirror))
	}
	reg := presence.New(rt.Store, popts...)
	svc := service.New(global.ServiceConfig(cfg), service.Deps{Store: rt.Store, Hub: reg, Sink: rt.Sink})

	// 3) 事件分发 + 网关
	disp := chat.NewDispatcher()
	handlers.Register(disp)
	srv := chat.NewServer(chat.OptionsFrom(cfg.Chat), svc, reg, disp)
	if rt.Mirror != nil {
		srv.SetSessionLookup(rt.Mirror)
	}

	// 4) gRPC 健康检查
	gs := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gs, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("ppdirect.Gateway", healthpb.HealthCheckResponse_SERVING)
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GrpcPort))
		if err != nil {
			logger.Error("[gRPC] listen failed", zap.Error(err))
			stop()
			return
		}
		logger.Infof("[gRPC] Listening on :%d", cfg.GrpcPort)
		if err := gs.Serve(lis); err != nil {
			logger.Error("[gRPC] server failed", zap.Error(err))
		}
	}()

	// 5) HTTP + WebSocket
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(mid.Recovery(), mid.AccessLog(), mid.Manager().Use())
	srv.Routes(r)

	hs := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("[HTTP] Listening on :%d (node=%s)", cfg.Port, cfg.NodeId)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[HTTP] server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	healthServer.Shutdown()
	_ = hs.Shutdown(sctx)
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("[gateway] shutdown", zap.Error(err))
	}
	gs.GracefulStop()
	rt.Close(sctx)
}
