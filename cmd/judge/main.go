package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"judgebox/internal/judge/problem"
	"judgebox/internal/judge/service"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/judge.yaml"

	exitOK = 0
	// exitConfig means no report was produced because the inputs are unusable.
	exitConfig = 1
	// exitFatal means the run aborted on an unexpected system failure.
	exitFatal = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	problemDir := flag.String("problem", "", "Problem data directory")
	submission := flag.String("submission", "", "Submission source file")
	runIDFlag := flag.String("run-id", "", "Run id used in logs and status keys (random when empty)")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return exitConfig
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return exitConfig
	}
	defer func() {
		_ = logger.Sync()
	}()

	runID := *runIDFlag
	if runID == "" {
		runID = uuid.NewString()
	}
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx := logger.WithRunID(sigCtx, runID)

	a, err := buildApp(ctx, appCfg, runID)
	if err != nil {
		return report(ctx, "init judge failed", err)
	}
	defer a.close()

	if appCfg.Problem.Prefix != "" {
		if a.store == nil {
			return report(ctx, "problem sync failed", errors.ConfigError("problem.prefix requires minio"))
		}
		prefix := path.Join(appCfg.Problem.Prefix) + "/"
		if _, err := problem.Sync(ctx, a.store, appCfg.Problem.Bucket, prefix, *problemDir); err != nil {
			return report(ctx, "problem sync failed", err)
		}
	}

	if err := a.startServer(ctx); err != nil {
		return report(ctx, "start status server failed", err)
	}
	details, err := a.orch.Judge(ctx, service.Submission{
		RunID:      runID,
		ProblemDir: *problemDir,
		SourcePath: *submission,
	})
	a.stopServer(ctx)
	if err != nil {
		return report(ctx, "judge failed", err)
	}
	logger.Info(ctx, "judge run complete", zap.Int("jobs", len(details.Jobs)), zap.String("summary", details.Summary))
	return exitOK
}

// report prints err and maps it to the process exit code.
func report(ctx context.Context, msg string, err error) int {
	logger.Error(ctx, msg, zap.Error(err), zap.Int("code", int(errors.GetCode(err))))
	if errors.IsConfigurationError(err) {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return exitFatal
}
