package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"path"

	"judgebox/internal/common/storage"
	"judgebox/internal/judge/report"
	"judgebox/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const archiveContentType = "application/zstd"

// ObjectReportArchiver uploads the final Details as zstd-compressed JSON.
type ObjectReportArchiver struct {
	store  storage.ObjectStorage
	bucket string
	prefix string
	runID  string
}

// NewObjectReportArchiver creates an archiver for one run.
func NewObjectReportArchiver(store storage.ObjectStorage, bucket, prefix, runID string) *ObjectReportArchiver {
	return &ObjectReportArchiver{store: store, bucket: bucket, prefix: prefix, runID: runID}
}

// Key returns the object key of the archive.
func (a *ObjectReportArchiver) Key() string {
	return path.Join(a.prefix, a.runID+".json.zst")
}

// Finish compresses and uploads the details.
func (a *ObjectReportArchiver) Finish(ctx context.Context, status LiveStatus, details report.Details) error {
	if a == nil || a.store == nil {
		return errors.New(errors.ServiceUnavailable).WithMessage("report archiver is not configured")
	}
	if a.bucket == "" || a.runID == "" {
		return errors.New(errors.InvalidParams).WithMessage("archive bucket and run id are required")
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return errors.Wrapf(err, errors.ReportInvalid, "marshal details")
	}
	compressed, err := compress(raw)
	if err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "compress details")
	}
	if err := a.store.PutObject(ctx, a.bucket, a.Key(), bytes.NewReader(compressed), int64(len(compressed)), archiveContentType); err != nil {
		return errors.Wrapf(err, errors.ServiceUnavailable, "upload details archive")
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
