package problem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"judgebox/internal/common/storage"
	"judgebox/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeTests(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		writeFile(t, dir, fmt.Sprintf("test_%d.in", i), "in\n")
		writeFile(t, dir, fmt.Sprintf("test_%d.ans", i), "ans\n")
	}
}

func TestLoadDiscoversTests(t *testing.T) {
	dir := t.TempDir()
	writeTests(t, dir, 3)
	writeFile(t, dir, "template.rs", "fn main() {}\n")

	p, err := Load(dir, Layout{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Tests) != 3 {
		t.Fatalf("expected 3 tests, got %d", len(p.Tests))
	}
	if p.Tests[2].Name() != "test_3" {
		t.Fatalf("unexpected name %q", p.Tests[2].Name())
	}
	if !p.HasTemplate() {
		t.Fatalf("expected template")
	}
	if p.Merge {
		t.Fatalf("merge should be off without harness")
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, dir string)
		code  errors.ErrorCode
	}{
		{
			name:  "no tests",
			setup: func(t *testing.T, dir string) {},
			code:  errors.TestCaseNotFound,
		},
		{
			name: "missing answer",
			setup: func(t *testing.T, dir string) {
				writeTests(t, dir, 1)
				writeFile(t, dir, "test_2.in", "in\n")
			},
			code: errors.TestCaseNotFound,
		},
		{
			name: "gap in numbering",
			setup: func(t *testing.T, dir string) {
				writeTests(t, dir, 2)
				writeFile(t, dir, "test_4.in", "in\n")
				writeFile(t, dir, "test_4.ans", "ans\n")
			},
			code: errors.TestCaseInvalid,
		},
		{
			name: "marker without harness",
			setup: func(t *testing.T, dir string) {
				writeTests(t, dir, 1)
				writeFile(t, dir, ".oj-merge", "")
			},
			code: errors.JudgeConfigInvalid,
		},
		{
			name: "bad config",
			setup: func(t *testing.T, dir string) {
				writeTests(t, dir, 1)
				writeFile(t, dir, "config.json", "{")
			},
			code: errors.JudgeConfigInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			tc.setup(t, dir)
			_, err := Load(dir, Layout{})
			if !errors.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
			if !errors.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	writeTests(t, dir, 1)
	writeFile(t, dir, "config.json", `{"timeLimitMs": 2500, "memoryLimitMB": 128}`)
	p, err := Load(dir, Layout{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Config.TimeLimitMs != 2500 || p.Config.MemoryLimitMB != 128 {
		t.Fatalf("unexpected config: %+v", p.Config)
	}
}

func TestResolveWeights(t *testing.T) {
	cases := []struct {
		name    string
		tests   int
		scores  []string
		want    []int
		wantErr bool
	}{
		{name: "even three", tests: 3, want: []int{33, 33, 34}},
		{name: "even one", tests: 1, want: []int{100}},
		{name: "even seven", tests: 7, want: []int{14, 14, 14, 14, 14, 14, 16}},
		{name: "explicit", tests: 2, scores: []string{"40\n", " 60 "}, want: []int{40, 60}},
		{name: "bad sum", tests: 2, scores: []string{"40", "50"}, wantErr: true},
		{name: "partial", tests: 2, scores: []string{"100"}, wantErr: true},
		{name: "not a number", tests: 1, scores: []string{"ten"}, wantErr: true},
		{name: "negative", tests: 2, scores: []string{"-10", "110"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTests(t, dir, tc.tests)
			for i, s := range tc.scores {
				writeFile(t, dir, fmt.Sprintf("test_%d.score", i+1), s)
			}
			p, err := Load(dir, Layout{})
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			got, err := ResolveWeights(p)
			if tc.wantErr {
				if !errors.IsConfigurationError(err) {
					t.Fatalf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMergeSource(t *testing.T) {
	cases := []struct {
		name    string
		marker  bool
		harness string
		want    string
	}{
		{name: "no merge", harness: "mod judge {}\n", want: "fn main() {}\n"},
		{name: "marker file", marker: true, harness: "mod judge {}", want: "mod judge {}\n// ---- submission ----\nfn main() {}\n"},
		{name: "directive", harness: "#![cfg(not(oj_no_merge))]\r\nmod judge {}\n", want: "#![cfg(not(oj_no_merge))]\r\nmod judge {}\n// ---- submission ----\nfn main() {}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTests(t, dir, 1)
			writeFile(t, dir, "harness.rs", tc.harness)
			if tc.marker {
				writeFile(t, dir, ".oj-merge", "")
			}
			p, err := Load(dir, Layout{})
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			got, err := MergeSource(p, []byte("fn main() {}\n"))
			if err != nil {
				t.Fatalf("merge: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("unexpected merge:\n%q\nwant:\n%q", got, tc.want)
			}
		})
	}
}

type fakeStorage struct {
	objects map[string]string
}

func (f *fakeStorage) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[key] = string(data)
	return nil
}

func (f *fakeStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewBufferString(data)), nil
}

func (f *fakeStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	ch := make(chan storage.ObjectInfo, len(f.objects))
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			ch <- storage.ObjectInfo{Key: key, SizeBytes: int64(len(data))}
		}
	}
	close(ch)
	return ch
}

func TestSync(t *testing.T) {
	store := &fakeStorage{objects: map[string]string{
		"problems/box/test_1.in":  "1\n",
		"problems/box/test_1.ans": "2\n",
		"problems/box/":           "",
		"problems/other/x":        "skip",
	}}
	dir := filepath.Join(t.TempDir(), "box")
	n, err := Sync(context.Background(), store, "data", "problems/box/", dir)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 files, got %d", n)
	}
	p, err := Load(dir, Layout{})
	if err != nil {
		t.Fatalf("load synced: %v", err)
	}
	if len(p.Tests) != 1 {
		t.Fatalf("expected 1 test, got %d", len(p.Tests))
	}
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	for _, rel := range []string{"../etc/passwd", "/abs", ".."} {
		if _, err := safeJoin("/tmp/base", rel); err == nil {
			t.Fatalf("expected error for %q", rel)
		}
	}
	if got, err := safeJoin("/tmp/base", "a/b"); err != nil || got != "/tmp/base/a/b" {
		t.Fatalf("unexpected join: %q %v", got, err)
	}
}
