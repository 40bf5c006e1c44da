package problem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"judgebox/internal/common/storage"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Sync downloads every object below prefix into dir, keeping relative paths.
// It returns the number of files written.
func Sync(ctx context.Context, store storage.ObjectStorage, bucket, prefix, dir string) (int, error) {
	if store == nil {
		return 0, errors.New(errors.InvalidParams).WithMessage("object storage is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, errors.JudgeSystemError, "create problem dir")
	}

	count := 0
	for obj := range store.ListObjects(ctx, bucket, prefix) {
		if obj.Err != nil {
			return count, errors.Wrapf(obj.Err, errors.JudgeSystemError, "list problem objects")
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		target, err := safeJoin(dir, rel)
		if err != nil {
			return count, err
		}
		if err := download(ctx, store, bucket, obj.Key, target); err != nil {
			return count, err
		}
		count++
	}
	logger.Info(ctx, "problem data synced", zap.String("bucket", bucket), zap.String("prefix", prefix), zap.Int("files", count))
	return count, nil
}

func download(ctx context.Context, store storage.ObjectStorage, bucket, key, target string) error {
	reader, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return errors.Wrapf(err, errors.JudgeSystemError, "download %s", key)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, errors.JudgeSystemError, "create dir for %s", key)
	}
	file, err := os.Create(target)
	if err != nil {
		return errors.Wrapf(err, errors.JudgeSystemError, "create %s", target)
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		return errors.Wrapf(err, errors.JudgeSystemError, "write %s", target)
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, errors.JudgeSystemError, "close %s", target)
	}
	return nil
}

func safeJoin(basePath, relPath string) (string, error) {
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New(errors.InvalidParams).WithMessage("invalid relative path")
	}
	full := filepath.Join(basePath, clean)
	if !strings.HasPrefix(full, filepath.Clean(basePath)+string(filepath.Separator)) {
		return "", errors.New(errors.InvalidParams).WithMessage("path traversal detected")
	}
	return full, nil
}
