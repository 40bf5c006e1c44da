// Package problem loads a problem data directory: template, harness and test cases.
package problem

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"judgebox/pkg/errors"
)

// Layout names the files looked up inside a problem directory.
type Layout struct {
	Template       string `yaml:"template"`
	Harness        string `yaml:"harness"`
	MergeMarker    string `yaml:"mergeMarker"`
	MergeDirective string `yaml:"mergeDirective"`
	Separator      string `yaml:"separator"`
	Config         string `yaml:"config"`
}

// DefaultLayout returns the conventional file names.
func DefaultLayout() Layout {
	return Layout{
		Template:       "template.rs",
		Harness:        "harness.rs",
		MergeMarker:    ".oj-merge",
		MergeDirective: "#![cfg(not(oj_no_merge))]",
		Separator:      "// ---- submission ----",
		Config:         "config.json",
	}
}

// WithDefaults fills empty fields from DefaultLayout.
func (l Layout) WithDefaults() Layout {
	def := DefaultLayout()
	if l.Template == "" {
		l.Template = def.Template
	}
	if l.Harness == "" {
		l.Harness = def.Harness
	}
	if l.MergeMarker == "" {
		l.MergeMarker = def.MergeMarker
	}
	if l.MergeDirective == "" {
		l.MergeDirective = def.MergeDirective
	}
	if l.Separator == "" {
		l.Separator = def.Separator
	}
	if l.Config == "" {
		l.Config = def.Config
	}
	return l
}

// Config holds optional per-problem overrides read from config.json.
type Config struct {
	TimeLimitMs   int64 `json:"timeLimitMs"`
	MemoryLimitMB int64 `json:"memoryLimitMB"`
}

// TestCase is one numbered input/answer pair.
type TestCase struct {
	Index      int
	InputPath  string
	AnswerPath string
	// ScorePath is empty when the test has no weight file.
	ScorePath string
}

// Name returns the test's report name.
func (t TestCase) Name() string {
	return fmt.Sprintf("test_%d", t.Index)
}

// Problem is a loaded problem directory.
type Problem struct {
	Dir          string
	TemplatePath string
	HarnessPath  string
	Merge        bool
	Separator    string
	Config       Config
	Tests        []TestCase
}

// HasTemplate reports whether submissions are checked against a template.
func (p Problem) HasTemplate() bool {
	return p.TemplatePath != ""
}

// Load discovers the problem files under dir.
func Load(dir string, layout Layout) (Problem, error) {
	layout = layout.WithDefaults()
	info, err := os.Stat(dir)
	if err != nil {
		return Problem{}, errors.Wrapf(err, errors.JudgeConfigInvalid, "problem directory %s", dir)
	}
	if !info.IsDir() {
		return Problem{}, errors.ConfigError("problem path %s is not a directory", dir)
	}

	p := Problem{Dir: dir, Separator: layout.Separator}
	if ok, err := fileExists(filepath.Join(dir, layout.Template)); err != nil {
		return Problem{}, err
	} else if ok {
		p.TemplatePath = filepath.Join(dir, layout.Template)
	}

	if err := p.loadHarness(layout); err != nil {
		return Problem{}, err
	}
	if err := p.loadConfig(filepath.Join(dir, layout.Config)); err != nil {
		return Problem{}, err
	}
	if err := p.discoverTests(); err != nil {
		return Problem{}, err
	}
	return p, nil
}

func (p *Problem) loadHarness(layout Layout) error {
	harness := filepath.Join(p.Dir, layout.Harness)
	hasHarness, err := fileExists(harness)
	if err != nil {
		return err
	}
	hasMarker, err := fileExists(filepath.Join(p.Dir, layout.MergeMarker))
	if err != nil {
		return err
	}
	if !hasHarness {
		if hasMarker {
			return errors.ConfigError("%s present but harness %s is missing", layout.MergeMarker, layout.Harness)
		}
		return nil
	}
	p.HarnessPath = harness
	if hasMarker {
		p.Merge = true
		return nil
	}
	first, err := firstLine(harness)
	if err != nil {
		return err
	}
	p.Merge = strings.TrimSpace(first) == layout.MergeDirective
	return nil
}

func (p *Problem) loadConfig(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "read %s", filepath.Base(path))
	}
	if err := json.Unmarshal(data, &p.Config); err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "parse %s", filepath.Base(path))
	}
	if p.Config.TimeLimitMs < 0 || p.Config.MemoryLimitMB < 0 {
		return errors.ConfigError("%s: limits must be non-negative", filepath.Base(path))
	}
	return nil
}

// discoverTests collects test_1..test_N; numbering must be contiguous.
func (p *Problem) discoverTests() error {
	for i := 1; ; i++ {
		tc := TestCase{
			Index:      i,
			InputPath:  filepath.Join(p.Dir, fmt.Sprintf("test_%d.in", i)),
			AnswerPath: filepath.Join(p.Dir, fmt.Sprintf("test_%d.ans", i)),
		}
		ok, err := fileExists(tc.InputPath)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		ok, err = fileExists(tc.AnswerPath)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf(errors.TestCaseNotFound, "%s has no answer file", tc.Name())
		}
		scorePath := filepath.Join(p.Dir, fmt.Sprintf("test_%d.score", i))
		ok, err = fileExists(scorePath)
		if err != nil {
			return err
		}
		if ok {
			tc.ScorePath = scorePath
		}
		p.Tests = append(p.Tests, tc)
	}

	if len(p.Tests) == 0 {
		return errors.Newf(errors.TestCaseNotFound, "no test cases in %s", p.Dir)
	}
	inputs, err := filepath.Glob(filepath.Join(p.Dir, "test_*.in"))
	if err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "list test inputs")
	}
	if len(inputs) != len(p.Tests) {
		return errors.Newf(errors.TestCaseInvalid, "test numbering is not contiguous: found %d inputs, test_1..test_%d usable", len(inputs), len(p.Tests))
	}
	return nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, errors.JudgeConfigInvalid, "stat %s", filepath.Base(path))
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.JudgeConfigInvalid, "open %s", filepath.Base(path))
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return strings.TrimRight(line, "\r\n"), nil
}
