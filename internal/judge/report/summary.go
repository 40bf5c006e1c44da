package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"judgebox/internal/judge/sandbox/result"
)

const (
	// SampleLines is how many lines of each capture a summary shows.
	SampleLines = 50
	// SampleBytes bounds each capture sample regardless of line count.
	SampleBytes = 64 << 10
)

const notFound = "_not found_"

// RenderSummary formats the metrics and the first lines of each capture as Markdown.
func RenderSummary(m result.Metrics, exitCode int, stdoutPath, stderrPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Exit code:** %d", exitCode)
	if exitCode == result.TimeoutExitCode {
		fmt.Fprintf(&b, " (%s)", StatusTimeLimitExceeded)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**CPU time:** %d ms\n\n", m.CPUMs)
	fmt.Fprintf(&b, "**Memory:** %d KB\n\n", m.MemoryKB)
	writeSample(&b, "stdout", stdoutPath)
	b.WriteString("\n")
	writeSample(&b, "stderr", stderrPath)
	return b.String()
}

func writeSample(b *strings.Builder, title, path string) {
	fmt.Fprintf(b, "**%s** (first %d lines):\n\n", title, SampleLines)
	sample, ok := headLines(path, SampleLines)
	if !ok {
		b.WriteString(notFound + "\n")
		return
	}
	b.WriteString("```\n")
	b.WriteString(sample)
	if sample != "" && !strings.HasSuffix(sample, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
}

// headLines returns up to n lines and SampleBytes bytes of the file at path;
// ok is false when it cannot be read.
func headLines(path string, n int) (string, bool) {
	if path == "" {
		return "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	var b strings.Builder
	truncated := false
	reader := bufio.NewReader(io.LimitReader(f, SampleBytes+1))
	for i := 0; i < n; i++ {
		line, err := reader.ReadString('\n')
		if room := SampleBytes - b.Len(); len(line) > room {
			for room > 0 && !utf8.RuneStart(line[room]) {
				room--
			}
			line = line[:room]
			truncated = true
		}
		b.WriteString(line)
		if truncated || err != nil {
			break
		}
	}
	if truncated {
		fmt.Fprintf(&b, "\n[truncated at %d bytes]", SampleBytes)
	}
	return b.String(), true
}
