package problem

import (
	"bytes"
	"os"

	"judgebox/pkg/errors"
)

// MergeSource returns the source to build: the submission alone, or the
// harness, the separator line and the submission when merging is enabled.
func MergeSource(p Problem, submission []byte) ([]byte, error) {
	if !p.Merge {
		return submission, nil
	}
	harness, err := os.ReadFile(p.HarnessPath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.JudgeConfigInvalid, "read harness")
	}
	var buf bytes.Buffer
	buf.Grow(len(harness) + len(p.Separator) + len(submission) + 2)
	buf.Write(harness)
	if len(harness) > 0 && harness[len(harness)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(p.Separator)
	buf.WriteByte('\n')
	buf.Write(submission)
	return buf.Bytes(), nil
}
