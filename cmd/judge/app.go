package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"judgebox/internal/common/cache"
	"judgebox/internal/common/http/middleware"
	"judgebox/internal/common/mq"
	"judgebox/internal/common/storage"
	"judgebox/internal/judge/compliance"
	"judgebox/internal/judge/controller"
	"judgebox/internal/judge/repository"
	"judgebox/internal/judge/sandbox/cgroup"
	"judgebox/internal/judge/sandbox/engine"
	"judgebox/internal/judge/service"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// app is everything one judge run needs, plus what must be closed afterwards.
type app struct {
	orch    *service.Orchestrator
	store   storage.ObjectStorage
	hub     *repository.StatusHub
	server  *http.Server
	linger  time.Duration
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *AppConfig, runID string) (*app, error) {
	a := &app{linger: cfg.Server.Linger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	runner, err := buildRunner(cfg.Sandbox)
	if err != nil {
		return nil, err
	}
	buildCmd, err := cfg.Build.toCommandConfig("build.command", cfg.Sandbox.SeccompProfile)
	if err != nil {
		return nil, err
	}
	runCmd, err := cfg.Run.toCommandConfig("run.command", cfg.Sandbox.SeccompProfile)
	if err != nil {
		return nil, err
	}

	fileLive := repository.NewFileLiveStatusStore(cfg.Output.LiveStatusPath)
	fileDetails := repository.NewFileDetailsStore(cfg.Output.DetailsPath)

	var mirrors []repository.LiveStatusSink
	var finals []repository.FinalSink
	var history controller.HistoryReader

	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
		if err != nil {
			logger.Warn(ctx, "redis mirror disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = redisCache.Close() })
			mirror := repository.NewRedisLiveStatusMirror(redisCache, runID, cfg.Status.TTL, cfg.Status.HistoryLimit)
			mirrors = append(mirrors, mirror)
			history = mirror
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := newReportProducer(ctx, cfg.Kafka)
		if err != nil {
			logger.Warn(ctx, "report publisher disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = producer.Close() })
			finals = append(finals, repository.NewMQReportPublisher(producer, cfg.Status.ReportTopic, runID))
		}
	}
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			logger.Warn(ctx, "object storage disabled", zap.Error(err))
		} else {
			a.store = store
			if cfg.Status.ArchiveBucket != "" {
				finals = append(finals, repository.NewObjectReportArchiver(store, cfg.Status.ArchiveBucket, cfg.Status.ArchivePrefix, runID))
			}
		}
	}
	if cfg.Server.Addr != "" {
		a.hub = repository.NewStatusHub()
		mirrors = append(mirrors, a.hub)
		a.server = buildHTTPServer(cfg.Server, runID, controller.NewJudgeController(fileLive, fileDetails, history, a.hub))
	}

	orch, err := service.NewOrchestrator(service.Config{
		Runner:  runner,
		Checker: compliance.NewChecker(cfg.Compliance.Marker),
		Layout:  cfg.Problem.Layout,
		Build: service.BuildConfig{
			CommandConfig: buildCmd,
			SourceName:    cfg.Build.SourceName,
			Artifact:      cfg.Build.Artifact,
		},
		Run:           runCmd,
		WorkRoot:      cfg.Judge.WorkRoot,
		KeepWorkDir:   cfg.Judge.KeepWorkDir,
		Parallelism:   cfg.Judge.Parallelism,
		Live:          repository.NewMultiLiveStatusSink(fileLive, mirrors...),
		Details:       fileDetails,
		Finals:        finals,
		StatusTimeout: cfg.Judge.StatusTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.orch = orch
	ok = true
	return a, nil
}

// newReportProducer connects to kafka and checks a broker answers before the run starts.
func newReportProducer(ctx context.Context, cfg mq.KafkaConfig) (*mq.KafkaProducer, error) {
	producer, err := mq.NewKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultBrokerPingTimeout)
	defer cancel()
	if err := producer.Ping(pingCtx); err != nil {
		_ = producer.Close()
		return nil, err
	}
	return producer, nil
}

func buildRunner(cfg SandboxConfig) (*engine.Runner, error) {
	groups, err := cgroup.NewManager(cgroup.Config{
		Root:     cfg.CgroupRoot,
		VerifyFS: cfg.VerifyCgroupFS,
		Nested:   cfg.Backend == backendDocker,
	})
	if err != nil {
		return nil, err
	}

	var backend engine.Backend
	switch cfg.Backend {
	case backendDocker:
		backend, err = engine.NewDockerBackend(engine.DockerConfig{
			Host:            cfg.Docker.Host,
			CgroupMount:     cfg.Docker.CgroupMount,
			WorkMount:       cfg.Docker.WorkMount,
			NetworkDisabled: cfg.Docker.NetworkDisabled,
			KillGrace:       cfg.KillGrace,
		})
	case backendLocal:
		backend, err = engine.NewLocalBackend(engine.LocalConfig{
			HelperPath:    cfg.HelperPath,
			ArtifactRoot:  cfg.ArtifactRoot,
			KillGrace:     cfg.KillGrace,
			EnableSeccomp: cfg.EnableSeccomp,
		})
	default:
		return nil, errors.ConfigError("unknown sandbox backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return engine.NewRunner(groups, backend), nil
}

func buildHTTPServer(cfg ServerConfig, runID string, h *controller.JudgeController) *http.Server {
	var verifier *middleware.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	}
	router := controller.NewRouter(h, runID, verifier, requestLogger())
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// startServer serves in the background until stopServer is called.
func (a *app) startServer(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "listen on %s", a.server.Addr)
	}
	go func() {
		logger.Info(ctx, "status server started", zap.String("addr", a.server.Addr))
		if err := a.server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "status server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *app) stopServer(ctx context.Context) {
	if a.server == nil {
		return
	}
	if a.linger > 0 {
		select {
		case <-time.After(a.linger):
		case <-ctx.Done():
		}
	}
	a.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "status server shutdown failed", zap.Error(err))
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
