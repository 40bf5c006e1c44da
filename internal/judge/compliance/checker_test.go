package compliance

import (
	stderrors "errors"
	"strings"
	"testing"

	"judgebox/pkg/errors"
)

const template = `fn main() {
    let x = 1; // @oj-edit
    let y = 2; // @oj-edit limit=10
    println!("{}", x + y);
}
`

func TestCheck(t *testing.T) {
	cases := []struct {
		name       string
		template   string
		submission string
		wantLine   int
		wantReason string
	}{
		{
			name:       "identical",
			template:   template,
			submission: template,
		},
		{
			name:     "free edit on marked line",
			template: template,
			submission: strings.Replace(template,
				"let x = 1; // @oj-edit", "let x = compute_something_long_and_complicated();", 1),
		},
		{
			name:       "limit respected after trimming",
			template:   template,
			submission: strings.Replace(template, "    let y = 2; // @oj-edit limit=10", "    y = 22;    ", 1),
		},
		{
			name:       "limit exceeded",
			template:   template,
			submission: strings.Replace(template, "    let y = 2; // @oj-edit limit=10", "let y = 222;", 1),
			wantLine:   3,
			wantReason: "limit",
		},
		{
			name:       "unmarked line differs",
			template:   template,
			submission: strings.Replace(template, `println!("{}", x + y);`, `println!("{}", 3);`, 1),
			wantLine:   4,
			wantReason: "differs",
		},
		{
			name:       "extra blank trailing lines",
			template:   template,
			submission: template + "\n   \n\t\n",
		},
		{
			name:       "extra non-blank trailing line",
			template:   template,
			submission: template + "\nfn evil() {}\n",
			wantLine:   7,
			wantReason: "extra non-blank trailing line",
		},
		{
			name:       "template blank tail may be missing",
			template:   "a\nb\n\n  \n",
			submission: "a\nb",
		},
		{
			name:       "submission ends early",
			template:   "a\nb\nc\n",
			submission: "a\n",
			wantLine:   2,
			wantReason: "ends early",
		},
		{
			name:       "carriage returns stripped",
			template:   "a\nb\n",
			submission: "a\r\nb\r\n",
		},
		{
			name:       "leading whitespace matters on unmarked lines",
			template:   "a\n",
			submission: " a\n",
			wantLine:   1,
			wantReason: "differs",
		},
		{
			name:       "marker needs a word boundary",
			template:   "x // @oj-editable\n",
			submission: "y\n",
			wantLine:   1,
			wantReason: "differs",
		},
	}

	checker := NewChecker("")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checker.Check(strings.NewReader(tc.template), strings.NewReader(tc.submission))
			if tc.wantLine == 0 {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, errors.TemplateMismatch) {
				t.Fatalf("expected template mismatch, got %v", err)
			}
			var mismatch *MismatchError
			if !stderrors.As(err, &mismatch) {
				t.Fatalf("expected *MismatchError in chain, got %T", err)
			}
			if mismatch.Line != tc.wantLine {
				t.Fatalf("expected line %d, got %d (%v)", tc.wantLine, mismatch.Line, mismatch)
			}
			if !strings.Contains(mismatch.Reason, tc.wantReason) {
				t.Fatalf("expected reason containing %q, got %q", tc.wantReason, mismatch.Reason)
			}
		})
	}
}

func TestCheckLimitBoundary(t *testing.T) {
	checker := NewChecker("")
	tpl := "// @oj-edit limit=10\n"
	if err := checker.Check(strings.NewReader(tpl), strings.NewReader("0123456789\n")); err != nil {
		t.Fatalf("10 characters must pass: %v", err)
	}
	err := checker.Check(strings.NewReader(tpl), strings.NewReader("01234567890\n"))
	if !errors.Is(err, errors.TemplateMismatch) {
		t.Fatalf("11 characters must fail, got %v", err)
	}
}

func TestCheckOverlongLine(t *testing.T) {
	checker := NewChecker("")
	tpl := "fn main() {}\n// @oj-edit\n"
	submission := "fn main() {}\n" + strings.Repeat("a", 2*maxLineBytes) + "\n"
	err := checker.Check(strings.NewReader(tpl), strings.NewReader(submission))
	if !errors.Is(err, errors.TemplateMismatch) {
		t.Fatalf("expected template mismatch, got %v", err)
	}
	var mismatch *MismatchError
	if !stderrors.As(err, &mismatch) {
		t.Fatalf("expected *MismatchError in chain, got %T", err)
	}
	if mismatch.Line != 2 || !strings.Contains(mismatch.Reason, "exceeds") {
		t.Fatalf("unexpected mismatch: %+v", mismatch)
	}
}

func TestMismatchErrorClipsLongLines(t *testing.T) {
	err := &MismatchError{Line: 3, Expected: "a", Actual: strings.Repeat("é", 1000), Reason: "line differs from template"}
	msg := err.Error()
	if len(msg) > 2*quoteBytes || !strings.Contains(msg, "...") {
		t.Fatalf("long line not clipped: %d bytes", len(msg))
	}
}

func TestCheckInvalidLimitIsConfiguration(t *testing.T) {
	checker := NewChecker("")
	err := checker.Check(strings.NewReader("x // @oj-edit limit=ten\n"), strings.NewReader("y\n"))
	if !errors.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCustomMarker(t *testing.T) {
	checker := NewChecker("EDIT-ME")
	err := checker.Check(strings.NewReader("a EDIT-ME\nb\n"), strings.NewReader("anything\nb\n"))
	if err != nil {
		t.Fatalf("custom marker ignored: %v", err)
	}
}

func TestParseMarker(t *testing.T) {
	checker := NewChecker("")
	cases := []struct {
		line      string
		marked    bool
		wantLimit int
	}{
		{line: "plain", marked: false, wantLimit: -1},
		{line: "x // @oj-edit", marked: true, wantLimit: -1},
		{line: "x // @oj-edit limit=5", marked: true, wantLimit: 5},
		{line: "x // @oj-edit note=hi limit=7", marked: true, wantLimit: 7},
		{line: "x // @oj-edit keep this short limit=7", marked: true, wantLimit: -1},
		{line: "@oj-editor then @oj-edit limit=2", marked: true, wantLimit: 2},
	}
	for _, tc := range cases {
		rule, marked, err := checker.parseMarker(tc.line)
		if err != nil {
			t.Fatalf("%q: %v", tc.line, err)
		}
		if marked != tc.marked || rule.limit != tc.wantLimit {
			t.Fatalf("%q: expected marked=%v limit=%d, got %v %d", tc.line, tc.marked, tc.wantLimit, marked, rule.limit)
		}
	}
}
