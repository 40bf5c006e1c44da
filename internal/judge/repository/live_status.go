// Package repository persists judge progress: the live status record and the Details report.
package repository

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"judgebox/internal/judge/report"
	"judgebox/pkg/errors"
)

// LiveStatus is the small record overwritten after every phase transition.
// Commit marks a snapshot the consumer should persist as official.
type LiveStatus struct {
	Score   int           `json:"score"`
	Status  report.Status `json:"status"`
	Message string        `json:"message"`
	Commit  bool          `json:"commit"`
}

// LiveStatusSink receives every live status snapshot.
type LiveStatusSink interface {
	SaveLive(ctx context.Context, status LiveStatus) error
}

// DetailsSink receives the Details tree after every completed job.
type DetailsSink interface {
	SaveDetails(ctx context.Context, details report.Details) error
}

// FinalSink receives the committed outcome once per run.
type FinalSink interface {
	Finish(ctx context.Context, status LiveStatus, details report.Details) error
}

// Encode renders the record as key=value lines. Newlines inside values become spaces.
func (s LiveStatus) Encode() []byte {
	commit := 0
	if s.Commit {
		commit = 1
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "score=%d\n", s.Score)
	fmt.Fprintf(&buf, "status=%s\n", singleLine(string(s.Status)))
	fmt.Fprintf(&buf, "message=%s\n", singleLine(s.Message))
	fmt.Fprintf(&buf, "commit=%d\n", commit)
	return buf.Bytes()
}

// Fields returns the record as a flat map, the shape stored in redis hashes.
func (s LiveStatus) Fields() map[string]interface{} {
	commit := 0
	if s.Commit {
		commit = 1
	}
	return map[string]interface{}{
		"score":   s.Score,
		"status":  string(s.Status),
		"message": s.Message,
		"commit":  commit,
	}
}

// DecodeLiveStatus parses the key=value form produced by Encode.
func DecodeLiveStatus(data []byte) (LiveStatus, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return LiveStatus{}, errors.Newf(errors.InvalidFormat, "live status line %q has no '='", line)
		}
		fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return LiveStatus{}, errors.Wrapf(err, errors.InvalidFormat, "read live status")
	}
	return liveStatusFromFields(fields)
}

func liveStatusFromFields(fields map[string]string) (LiveStatus, error) {
	var s LiveStatus
	if v, ok := fields["score"]; ok {
		score, err := strconv.Atoi(v)
		if err != nil {
			return LiveStatus{}, errors.Wrapf(err, errors.InvalidFormat, "parse score")
		}
		s.Score = score
	}
	s.Status = report.Status(fields["status"])
	s.Message = fields["message"]
	switch fields["commit"] {
	case "", "0":
	case "1":
		s.Commit = true
	default:
		return LiveStatus{}, errors.Newf(errors.InvalidFormat, "commit must be 0 or 1, got %q", fields["commit"])
	}
	return s, nil
}

func singleLine(v string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(v)
}
