// Package compliance verifies that a submission keeps a template intact outside marked lines.
package compliance

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"unicode/utf8"

	"judgebox/pkg/errors"
)

// DefaultMarker tags a template line the submission may change.
const DefaultMarker = "@oj-edit"

const (
	maxLineBytes = 1 << 20
	// quoteBytes bounds each line quoted in a mismatch message.
	quoteBytes = 256
)

// MismatchError reports the first line where the submission breaks the template.
type MismatchError struct {
	Line     int
	Expected string
	Actual   string
	Reason   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("line %d: %s (expected %q, got %q)", e.Line, e.Reason, clip(e.Expected), clip(e.Actual))
}

func clip(s string) string {
	if len(s) <= quoteBytes {
		return s
	}
	cut := quoteBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Checker compares submissions against templates.
type Checker struct {
	marker string
}

// NewChecker returns a checker recognising marker; empty means DefaultMarker.
func NewChecker(marker string) *Checker {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Checker{marker: marker}
}

// editRule is what a marked template line allows.
type editRule struct {
	limit int // -1 for no limit
}

// Check returns nil when submission matches template. Mismatches are
// TemplateMismatch errors wrapping a *MismatchError.
func (c *Checker) Check(template, submission io.Reader) error {
	tScan := newScanner(template)
	sScan := newScanner(submission)
	nextT, stopT := iter.Pull(lines(tScan))
	defer stopT()
	nextS, stopS := iter.Pull(lines(sScan))
	defer stopS()

	var mismatch *MismatchError
	for line := 1; mismatch == nil; line++ {
		want, okT := nextT()
		got, okS := nextS()
		if !okS && stderrors.Is(sScan.Err(), bufio.ErrTooLong) {
			mismatch = &MismatchError{Line: line, Expected: want, Reason: fmt.Sprintf("line exceeds %d bytes", maxLineBytes)}
			break
		}
		if !okT && !okS {
			break
		}
		switch {
		case !okS:
			mismatch = c.drainTemplate(line, want, nextT)
		case !okT:
			mismatch = drainSubmission(line, got, nextS)
		default:
			var err error
			mismatch, err = c.compareLine(line, want, got)
			if err != nil {
				return err
			}
		}
	}

	if err := tScan.Err(); err != nil {
		return errors.Wrapf(err, errors.JudgeConfigInvalid, "read template")
	}
	if mismatch != nil {
		return errors.Wrapf(mismatch, errors.TemplateMismatch, "source check failed")
	}
	if err := sScan.Err(); err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "read submission")
	}
	return nil
}

func (c *Checker) compareLine(line int, want, got string) (*MismatchError, error) {
	rule, marked, err := c.parseMarker(want)
	if err != nil {
		return nil, errors.Wrapf(err, errors.JudgeConfigInvalid, "template line %d", line)
	}
	if marked {
		if rule.limit >= 0 {
			if n := utf8.RuneCountInString(strings.TrimSpace(got)); n > rule.limit {
				return &MismatchError{
					Line:     line,
					Expected: want,
					Actual:   got,
					Reason:   fmt.Sprintf("edited line is %d characters, limit is %d", n, rule.limit),
				}, nil
			}
		}
		return nil, nil
	}
	if want != got {
		return &MismatchError{Line: line, Expected: want, Actual: got, Reason: "line differs from template"}, nil
	}
	return nil, nil
}

// drainTemplate checks the template lines left once the submission has ended.
func (c *Checker) drainTemplate(line int, want string, next func() (string, bool)) *MismatchError {
	for ok := true; ok; want, ok = next() {
		if !isBlank(want) {
			return &MismatchError{Line: line, Expected: want, Reason: "submission ends early"}
		}
		line++
	}
	return nil
}

// drainSubmission checks the submission lines left once the template has ended.
func drainSubmission(line int, got string, next func() (string, bool)) *MismatchError {
	for ok := true; ok; got, ok = next() {
		if !isBlank(got) {
			return &MismatchError{Line: line, Actual: got, Reason: "extra non-blank trailing line"}
		}
		line++
	}
	return nil
}

// parseMarker reports whether line carries the marker and which modifiers follow it.
func (c *Checker) parseMarker(line string) (editRule, bool, error) {
	rule := editRule{limit: -1}
	idx := strings.Index(line, c.marker)
	for idx >= 0 {
		rest := line[idx+len(c.marker):]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			for _, field := range strings.Fields(rest) {
				key, value, ok := strings.Cut(field, "=")
				if !ok {
					break
				}
				if key == "limit" {
					n, err := strconv.Atoi(value)
					if err != nil || n < 0 {
						return rule, true, fmt.Errorf("invalid limit %q", value)
					}
					rule.limit = n
				}
			}
			return rule, true, nil
		}
		next := strings.Index(rest, c.marker)
		if next < 0 {
			break
		}
		idx += len(c.marker) + next
	}
	return rule, false, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}

// lines yields each line with trailing carriage returns removed.
func lines(sc *bufio.Scanner) iter.Seq[string] {
	return func(yield func(string) bool) {
		for sc.Scan() {
			if !yield(strings.TrimRight(sc.Text(), "\r")) {
				return
			}
		}
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
