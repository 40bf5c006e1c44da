// Package report builds the append-only Details → Job → Test score tree.
package report

import (
	"judgebox/pkg/errors"
)

// Status is the verdict label carried by tests, jobs and live status.
type Status string

const (
	StatusAccepted     Status = "Accepted"
	StatusWrongAnswer  Status = "Wrong Answer"
	StatusRuntimeError Status = "Runtime Error"
	StatusCompileError Status = "Compile Error"
	// StatusTimeLimitExceeded labels summaries only; timeouts classify as runtime errors.
	StatusTimeLimitExceeded Status = "Time Limit Exceeded"
	StatusSystemError       Status = "System Error"
)

// MaxScore is the full score of a test and of a weighted job.
const MaxScore = 100

// Test is one graded test case.
type Test struct {
	Name       string `json:"name"`
	Score      int    `json:"score"`
	ScoreScale int    `json:"scoreScale"`
	Status     Status `json:"status"`
	Summary    string `json:"summary"`
}

// Job is one phase of a run: a pass/fail gate, or an aggregate of tests.
type Job struct {
	Name       string `json:"name"`
	Score      int    `json:"score"`
	ScoreScale int    `json:"scoreScale"`
	Status     Status `json:"status"`
	Summary    string `json:"summary"`
	Tests      []Test `json:"tests"`
}

// Details is the run-level report.
type Details struct {
	Summary string `json:"summary"`
	Jobs    []Job  `json:"jobs"`
}

// NewTest validates and builds a test node.
func NewTest(name string, score, scoreScale int, status Status, summary string) (Test, error) {
	if name == "" {
		return Test{}, errors.New(errors.ReportInvalid).WithMessage("test name is required")
	}
	if status == "" {
		return Test{}, errors.Newf(errors.ReportInvalid, "test %s: status is required", name)
	}
	if score < 0 || score > MaxScore {
		return Test{}, errors.Newf(errors.ReportInvalid, "test %s: score %d outside [0,%d]", name, score, MaxScore)
	}
	if scoreScale < 0 || scoreScale > MaxScore {
		return Test{}, errors.Newf(errors.ReportInvalid, "test %s: scoreScale %d outside [0,%d]", name, scoreScale, MaxScore)
	}
	return Test{Name: name, Score: score, ScoreScale: scoreScale, Status: status, Summary: summary}, nil
}

// NewJob validates and builds a job node without tests.
func NewJob(name string, score, scoreScale int, status Status, summary string) (Job, error) {
	if name == "" {
		return Job{}, errors.New(errors.ReportInvalid).WithMessage("job name is required")
	}
	if status == "" {
		return Job{}, errors.Newf(errors.ReportInvalid, "job %s: status is required", name)
	}
	if score < 0 || score > MaxScore {
		return Job{}, errors.Newf(errors.ReportInvalid, "job %s: score %d outside [0,%d]", name, score, MaxScore)
	}
	if scoreScale < 0 {
		return Job{}, errors.Newf(errors.ReportInvalid, "job %s: negative scoreScale", name)
	}
	return Job{Name: name, Score: score, ScoreScale: scoreScale, Status: status, Summary: summary, Tests: []Test{}}, nil
}

// NewDetails builds an empty report.
func NewDetails(summary string) Details {
	return Details{Summary: summary, Jobs: []Job{}}
}

// AppendTest returns a copy of j with t appended and its score recomputed.
func (j Job) AppendTest(t Test) Job {
	tests := make([]Test, len(j.Tests), len(j.Tests)+1)
	copy(tests, j.Tests)
	j.Tests = append(tests, t)
	j.Score = j.WeightedScore()
	return j
}

// WeightedScore is the sum over tests of score*scoreScale/100, each term truncated.
func (j Job) WeightedScore() int {
	total := 0
	for _, t := range j.Tests {
		total += t.Score * t.ScoreScale / MaxScore
	}
	return total
}

// Validate checks that the weights of a job with tests add up to 100.
func (j Job) Validate() error {
	if len(j.Tests) == 0 {
		return nil
	}
	sum := 0
	for _, t := range j.Tests {
		sum += t.ScoreScale
	}
	if sum != MaxScore {
		return errors.Newf(errors.ReportInvalid, "job %s: test weights sum to %d, want %d", j.Name, sum, MaxScore)
	}
	return nil
}

// AppendJob returns a copy of d with j appended.
func (d Details) AppendJob(j Job) Details {
	jobs := make([]Job, len(d.Jobs), len(d.Jobs)+1)
	copy(jobs, d.Jobs)
	d.Jobs = append(jobs, j)
	return d
}

// WithSummary returns a copy of d with a new run summary.
func (d Details) WithSummary(summary string) Details {
	jobs := make([]Job, len(d.Jobs))
	copy(jobs, d.Jobs)
	d.Jobs = jobs
	d.Summary = summary
	return d
}
