package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"judgebox/internal/judge/problem"
	"judgebox/internal/judge/report"
	"judgebox/internal/judge/repository"
	"judgebox/internal/judge/sandbox/engine"
	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// testOutcome is one graded test, kept at its test index.
type testOutcome struct {
	test report.Test
}

// progress tracks the live status shown while tests run. The status only
// moves once every earlier test is graded, so it matches the final fold.
type progress struct {
	mu       sync.Mutex
	score    int
	status   report.Status
	statuses []report.Status
	next     int
}

func newProgress(tests int) *progress {
	return &progress{status: report.StatusAccepted, statuses: make([]report.Status, tests)}
}

func (p *progress) running(index int) repository.LiveStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return repository.LiveStatus{Score: p.score, Status: p.status, Message: fmt.Sprintf("Running on test %d", index)}
}

func (p *progress) record(i int, t report.Test) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.score += t.Score * t.ScoreScale / report.MaxScore
	p.statuses[i] = t.Status
	for p.next < len(p.statuses) && p.statuses[p.next] != "" {
		if p.status == report.StatusAccepted && p.statuses[p.next] != report.StatusAccepted {
			p.status = p.statuses[p.next]
		}
		p.next++
	}
}

// runTests grades every test case and returns outcomes in test order.
func (o *Orchestrator) runTests(ctx context.Context, st *runState, artifact string) ([]testOutcome, error) {
	st.testsStart = o.now()
	outcomes := make([]testOutcome, len(st.problem.Tests))
	prog := newProgress(len(st.problem.Tests))
	var liveMu sync.Mutex

	grade := func(ctx context.Context, i int) error {
		tc := st.problem.Tests[i]
		liveMu.Lock()
		err := o.saveLive(ctx, prog.running(tc.Index))
		liveMu.Unlock()
		if err != nil {
			return err
		}
		test, err := o.runOne(ctx, st, artifact, tc, st.weights[i])
		if err != nil {
			return err
		}
		outcomes[i] = testOutcome{test: test}
		prog.record(i, test)
		logger.Debug(ctx, "test graded", zap.String("test", test.Name), zap.String("status", string(test.Status)))
		return nil
	}

	if o.parallelism <= 1 {
		for i := range st.problem.Tests {
			if err := grade(ctx, i); err != nil {
				return nil, err
			}
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i := range st.problem.Tests {
		g.Go(func() error {
			return grade(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// runOne grades a single test. Only fatal errors are returned; sandbox
// failures become Runtime Error outcomes.
func (o *Orchestrator) runOne(ctx context.Context, st *runState, artifact string, tc problem.TestCase, weight int) (report.Test, error) {
	testDir := filepath.Join(st.workDir, "tests", tc.Name())
	if err := os.MkdirAll(testDir, 0o755); err != nil {
		return report.Test{}, errors.Wrapf(err, errors.JudgeSystemError, "create %s dir", tc.Name())
	}
	if err := copyExecutable(artifact, filepath.Join(testDir, filepath.Base(artifact))); err != nil {
		return report.Test{}, errors.Wrapf(err, errors.JudgeSystemError, "stage artifact for %s", tc.Name())
	}

	cmdCfg := o.run
	cmdCfg.Timeout = st.runLimit
	if st.problem.Config.MemoryLimitMB > 0 {
		cmdCfg.Limits.MemoryMB = st.problem.Config.MemoryLimitMB
	}
	stdoutPath := filepath.Join(testDir, "stdout")
	stderrPath := filepath.Join(testDir, "stderr")
	res, runErr := o.runCaptured(ctx, engine.RunRequest{
		Timeout: cmdCfg.Timeout,
		Process: o.processSpec(cmdCfg, testDir, tc.InputPath),
	}, stdoutPath, stderrPath)
	if err := fatalRunError(ctx, runErr); err != nil {
		return report.Test{}, err
	}

	status := report.StatusAccepted
	score := report.MaxScore
	summary := report.RenderSummary(res.Metrics, res.ExitCode, stdoutPath, stderrPath)
	switch {
	case runErr != nil:
		logger.Warn(ctx, "test sandbox failed", zap.String("test", tc.Name()), zap.Error(runErr))
		status, score = report.StatusRuntimeError, 0
		summary = fmt.Sprintf("**Sandbox error:** %s\n\n%s", runErr.Error(), summary)
	case res.ExitCode != 0:
		status, score = report.StatusRuntimeError, 0
	default:
		same, err := sameContent(stdoutPath, tc.AnswerPath)
		if err != nil {
			return report.Test{}, errors.Wrapf(err, errors.JudgeSystemError, "compare %s output", tc.Name())
		}
		if !same {
			status, score = report.StatusWrongAnswer, 0
		}
	}
	return report.NewTest(tc.Name(), score, weight, status, summary)
}

// fatalRunError returns err when it must abort the run. Isolation failures
// are graded as report data instead; everything else unwinds.
func fatalRunError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return errors.Wrapf(ctx.Err(), errors.JudgeSystemError, "judge interrupted")
	case errors.GetCode(err).IsIsolation():
		return nil
	default:
		return err
	}
}

// fold computes the aggregate score and the first non-Accepted status in test order.
func fold(outcomes []testOutcome) (int, report.Status) {
	score := 0
	status := report.StatusAccepted
	for _, out := range outcomes {
		score += out.test.Score * out.test.ScoreScale / report.MaxScore
		if status == report.StatusAccepted && out.test.Status != report.StatusAccepted {
			status = out.test.Status
		}
	}
	return score, status
}

func (o *Orchestrator) processSpec(cfg CommandConfig, workDir, stdinPath string) spec.ProcessSpec {
	return spec.ProcessSpec{
		Image:          cfg.Image,
		Cmd:            append([]string(nil), cfg.Cmd...),
		Env:            append([]string(nil), cfg.Env...),
		WorkDir:        workDir,
		StdinPath:      stdinPath,
		Limits:         cfg.Limits,
		SeccompProfile: cfg.Seccomp,
	}
}

// runCaptured runs req with stdout and stderr written to the given files.
func (o *Orchestrator) runCaptured(ctx context.Context, req engine.RunRequest, stdoutPath, stderrPath string) (result.RunResult, error) {
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return result.RunResult{}, errors.Wrapf(err, errors.JudgeSystemError, "create stdout capture")
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return result.RunResult{}, errors.Wrapf(err, errors.JudgeSystemError, "create stderr capture")
	}
	defer stderr.Close()
	req.Stdout = stdout
	req.Stderr = stderr
	return o.runner.Run(ctx, req)
}

// sameContent reports whether two files are byte-for-byte identical.
func sameContent(pathA, pathB string) (bool, error) {
	a, err := os.Open(pathA)
	if err != nil {
		return false, err
	}
	defer a.Close()
	b, err := os.Open(pathB)
	if err != nil {
		return false, err
	}
	defer b.Close()

	ra := bufio.NewReaderSize(a, 64<<10)
	rb := bufio.NewReaderSize(b, 64<<10)
	bufA := make([]byte, 32<<10)
	bufB := make([]byte, 32<<10)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		endA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		endB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !endA {
			return false, errA
		}
		if errB != nil && !endB {
			return false, errB
		}
		if endA || endB {
			return endA == endB, nil
		}
	}
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
