// Package service drives one judging run: source check, build, tests and aggregation.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"judgebox/internal/judge/compliance"
	"judgebox/internal/judge/problem"
	"judgebox/internal/judge/report"
	"judgebox/internal/judge/repository"
	"judgebox/internal/judge/sandbox/engine"
	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	JobSourceCheck = "Source Check"
	JobCompile     = "Compile"
	JobTests       = "Tests"
)

// Runner executes one sandboxed process.
type Runner interface {
	Run(ctx context.Context, req engine.RunRequest) (result.RunResult, error)
}

// CommandConfig describes how a sandboxed step is launched.
type CommandConfig struct {
	Image     string
	Cmd       []string
	Env       []string
	Timeout   time.Duration
	Limits    spec.ResourceLimit
	TailLines int
	Seccomp   string
}

// BuildConfig is the build step plus where its input and output live inside the work dir.
type BuildConfig struct {
	CommandConfig
	SourceName string
	Artifact   string
}

// Config holds orchestrator dependencies and settings.
type Config struct {
	Runner      Runner
	Checker     *compliance.Checker
	Layout      problem.Layout
	Build       BuildConfig
	Run         CommandConfig
	WorkRoot    string
	KeepWorkDir bool
	Parallelism int
	Live        repository.LiveStatusSink
	Details     repository.DetailsSink
	Finals      []repository.FinalSink
	// StatusTimeout bounds every sink write; zero means no bound.
	StatusTimeout time.Duration
}

// Submission identifies what to judge.
type Submission struct {
	RunID      string
	ProblemDir string
	SourcePath string
}

// Orchestrator runs the judging state machine.
type Orchestrator struct {
	runner        Runner
	checker       *compliance.Checker
	layout        problem.Layout
	build         BuildConfig
	run           CommandConfig
	workRoot      string
	keepWorkDir   bool
	parallelism   int
	live          repository.LiveStatusSink
	details       repository.DetailsSink
	finals        []repository.FinalSink
	statusTimeout time.Duration
	now           func() time.Time
}

// NewOrchestrator validates cfg and creates an orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, errors.ConfigError("sandbox runner is required")
	}
	if cfg.Live == nil || cfg.Details == nil {
		return nil, errors.ConfigError("live status and details sinks are required")
	}
	if len(cfg.Build.Cmd) == 0 {
		return nil, errors.ValidationError("build.command", "required")
	}
	if len(cfg.Run.Cmd) == 0 {
		return nil, errors.ValidationError("run.command", "required")
	}
	if cfg.Build.SourceName == "" || cfg.Build.Artifact == "" {
		return nil, errors.ValidationError("build", "sourceName and artifact are required")
	}
	if filepath.IsAbs(cfg.Build.SourceName) || filepath.IsAbs(cfg.Build.Artifact) {
		return nil, errors.ValidationError("build", "sourceName and artifact must be relative")
	}
	checker := cfg.Checker
	if checker == nil {
		checker = compliance.NewChecker("")
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	workRoot := cfg.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	return &Orchestrator{
		runner:        cfg.Runner,
		checker:       checker,
		layout:        cfg.Layout.WithDefaults(),
		build:         cfg.Build,
		run:           cfg.Run,
		workRoot:      workRoot,
		keepWorkDir:   cfg.KeepWorkDir,
		parallelism:   parallelism,
		live:          cfg.Live,
		details:       cfg.Details,
		finals:        cfg.Finals,
		statusTimeout: cfg.StatusTimeout,
		now:           time.Now,
	}, nil
}

// runState is the per-run mutable state; Details only ever grows through it.
type runState struct {
	sub      Submission
	problem  problem.Problem
	weights  []int
	source   []byte
	workDir  string
	started  time.Time
	details  report.Details
	runLimit time.Duration
	// testsStart marks the beginning of the testing phase.
	testsStart time.Time
}

// Judge runs the full state machine. Configuration errors are returned before
// any report is written; every judging outcome returns the final Details and a nil error.
func (o *Orchestrator) Judge(ctx context.Context, sub Submission) (report.Details, error) {
	ctx = logger.WithRunID(ctx, sub.RunID)
	st, err := o.prepare(sub)
	if err != nil {
		logger.Error(ctx, "judge configuration invalid", zap.Error(err))
		return report.Details{}, err
	}
	st.started = o.now()

	workDir, err := os.MkdirTemp(o.workRoot, "judge-")
	if err != nil {
		return report.Details{}, errors.Wrapf(err, errors.JudgeSystemError, "create work dir")
	}
	st.workDir = workDir
	if !o.keepWorkDir {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				logger.Warn(ctx, "remove work dir failed", zap.String("path", workDir), zap.Error(err))
			}
		}()
	}
	logger.Info(ctx, "judge started",
		zap.String("problem", sub.ProblemDir),
		zap.Int("tests", len(st.problem.Tests)),
		zap.Int("parallelism", o.parallelism))

	done, err := o.checkTemplate(ctx, st)
	if err != nil || done {
		return st.details, err
	}
	artifact, done, err := o.buildSubmission(ctx, st)
	if err != nil || done {
		return st.details, err
	}
	tests, err := o.runTests(ctx, st, artifact)
	if err != nil {
		return st.details, err
	}
	if err := o.aggregate(ctx, st, tests); err != nil {
		return st.details, err
	}
	return st.details, nil
}

// prepare loads everything that can fail as a configuration error.
func (o *Orchestrator) prepare(sub Submission) (*runState, error) {
	if sub.ProblemDir == "" {
		return nil, errors.ValidationError("problem", "required")
	}
	if sub.SourcePath == "" {
		return nil, errors.ValidationError("submission", "required")
	}
	p, err := problem.Load(sub.ProblemDir, o.layout)
	if err != nil {
		return nil, err
	}
	weights, err := problem.ResolveWeights(p)
	if err != nil {
		return nil, err
	}
	source, err := os.ReadFile(sub.SourcePath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.JudgeConfigInvalid, "read submission")
	}

	runLimit := o.run.Timeout
	if p.Config.TimeLimitMs > 0 {
		runLimit = time.Duration(p.Config.TimeLimitMs) * time.Millisecond
	}
	if o.build.Timeout <= 0 {
		return nil, errors.ValidationError("build.timeout", "a positive timeout is required")
	}
	if runLimit <= 0 {
		return nil, errors.ValidationError("run.timeout", "a positive timeout is required")
	}
	return &runState{
		sub:      sub,
		problem:  p,
		weights:  weights,
		source:   source,
		details:  report.NewDetails(""),
		runLimit: runLimit,
	}, nil
}

func (o *Orchestrator) checkTemplate(ctx context.Context, st *runState) (bool, error) {
	if !st.problem.HasTemplate() {
		return false, nil
	}
	if err := o.saveLive(ctx, repository.LiveStatus{Status: report.StatusAccepted, Message: "Checking source"}); err != nil {
		return true, err
	}
	err := o.checkSource(st)
	if err != nil && !errors.Is(err, errors.TemplateMismatch) {
		return true, err
	}
	if err != nil {
		logger.Info(ctx, "source check failed", zap.Error(err))
		job, jobErr := report.NewJob(JobSourceCheck, 0, 0, report.StatusWrongAnswer, err.Error())
		if jobErr != nil {
			return true, jobErr
		}
		if err := o.appendJob(ctx, st, job); err != nil {
			return true, err
		}
		return true, o.finish(ctx, st, 0, report.StatusWrongAnswer)
	}
	job, err := report.NewJob(JobSourceCheck, report.MaxScore, 0, report.StatusAccepted, "Source matches template")
	if err != nil {
		return true, err
	}
	return false, o.appendJob(ctx, st, job)
}

func (o *Orchestrator) checkSource(st *runState) error {
	template, err := os.Open(st.problem.TemplatePath)
	if err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "open template")
	}
	defer template.Close()
	submission, err := os.Open(st.sub.SourcePath)
	if err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "open submission")
	}
	defer submission.Close()
	return o.checker.Check(template, submission)
}

// buildSubmission returns the artifact path, or done=true after a compile failure.
func (o *Orchestrator) buildSubmission(ctx context.Context, st *runState) (string, bool, error) {
	if err := o.saveLive(ctx, repository.LiveStatus{Status: report.StatusAccepted, Message: "Building"}); err != nil {
		return "", true, err
	}
	buildDir := filepath.Join(st.workDir, "build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return "", true, errors.Wrapf(err, errors.JudgeSystemError, "create build dir")
	}
	merged, err := problem.MergeSource(st.problem, st.source)
	if err != nil {
		return "", true, err
	}
	sourcePath := filepath.Join(buildDir, o.build.SourceName)
	if err := os.MkdirAll(filepath.Dir(sourcePath), 0o755); err != nil {
		return "", true, errors.Wrapf(err, errors.JudgeSystemError, "create source dir")
	}
	if err := os.WriteFile(sourcePath, merged, 0o644); err != nil {
		return "", true, errors.Wrapf(err, errors.JudgeSystemError, "write merged source")
	}

	ps := o.processSpec(o.build.CommandConfig, buildDir, "")
	stdoutPath := filepath.Join(st.workDir, "build.stdout")
	stderrPath := filepath.Join(st.workDir, "build.stderr")
	res, runErr := o.runCaptured(ctx, engine.RunRequest{
		Timeout:   o.build.Timeout,
		TailLines: o.build.TailLines,
		Process:   ps,
	}, stdoutPath, stderrPath)
	if err := fatalRunError(ctx, runErr); err != nil {
		return "", true, err
	}

	if runErr != nil || res.ExitCode != 0 {
		summary := report.RenderSummary(res.Metrics, res.ExitCode, stdoutPath, stderrPath)
		if runErr != nil {
			logger.Warn(ctx, "build sandbox failed", zap.Error(runErr))
			summary = fmt.Sprintf("**Sandbox error:** %s\n\n%s", runErr.Error(), summary)
		}
		job, err := report.NewJob(JobCompile, 0, 0, report.StatusCompileError, summary)
		if err != nil {
			return "", true, err
		}
		if err := o.appendJob(ctx, st, job); err != nil {
			return "", true, err
		}
		return "", true, o.finish(ctx, st, 0, report.StatusCompileError)
	}

	job, err := report.NewJob(JobCompile, report.MaxScore, 0, report.StatusAccepted,
		report.RenderSummary(res.Metrics, res.ExitCode, stdoutPath, stderrPath))
	if err != nil {
		return "", true, err
	}
	if err := o.appendJob(ctx, st, job); err != nil {
		return "", true, err
	}

	artifact := filepath.Join(buildDir, o.build.Artifact)
	info, err := os.Stat(artifact)
	if err != nil {
		return "", true, errors.Wrapf(err, errors.JudgeSystemError, "build artifact %s", o.build.Artifact)
	}
	if info.IsDir() {
		return "", true, errors.Newf(errors.JudgeSystemError, "build artifact %s is a directory", o.build.Artifact)
	}
	logger.Info(ctx, "build finished", zap.Int64("cpu_ms", res.Metrics.CPUMs), zap.Int64("mem_kb", res.Metrics.MemoryKB))
	return artifact, false, nil
}

func (o *Orchestrator) aggregate(ctx context.Context, st *runState, outcomes []testOutcome) error {
	elapsed := o.now().Sub(st.testsStart)
	score, status := fold(outcomes)
	passed := 0
	for _, out := range outcomes {
		if out.test.Status == report.StatusAccepted {
			passed++
		}
	}
	summary := fmt.Sprintf("%d/%d tests passed in %s", passed, len(outcomes), elapsed.Round(time.Millisecond))
	job, err := report.NewJob(JobTests, 0, report.MaxScore, status, summary)
	if err != nil {
		return err
	}
	for _, out := range outcomes {
		job = job.AppendTest(out.test)
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if job.Score != score {
		return errors.Newf(errors.ReportInvalid, "aggregate score %d does not match folded score %d", job.Score, score)
	}
	if err := o.appendJob(ctx, st, job); err != nil {
		return err
	}
	return o.finish(ctx, st, score, status)
}
