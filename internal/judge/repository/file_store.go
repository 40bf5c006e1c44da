package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"judgebox/internal/judge/report"
	"judgebox/pkg/errors"
)

// FileLiveStatusStore overwrites the live status file atomically.
type FileLiveStatusStore struct {
	path string
}

// NewFileLiveStatusStore creates a store writing to path.
func NewFileLiveStatusStore(path string) *FileLiveStatusStore {
	return &FileLiveStatusStore{path: path}
}

// SaveLive replaces the file with the encoded status.
func (s *FileLiveStatusStore) SaveLive(ctx context.Context, status LiveStatus) error {
	if err := writeAtomic(s.path, status.Encode()); err != nil {
		return errors.Wrapf(err, errors.StatusPersistFailed, "write live status")
	}
	return nil
}

// LoadLive reads the last written status.
func (s *FileLiveStatusStore) LoadLive(ctx context.Context) (LiveStatus, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return LiveStatus{}, errors.NotFoundError("live status")
	}
	if err != nil {
		return LiveStatus{}, errors.Wrapf(err, errors.InternalServerError, "read live status")
	}
	return DecodeLiveStatus(data)
}

// FileDetailsStore overwrites the Details JSON document atomically.
type FileDetailsStore struct {
	path string
}

// NewFileDetailsStore creates a store writing to path.
func NewFileDetailsStore(path string) *FileDetailsStore {
	return &FileDetailsStore{path: path}
}

// SaveDetails writes details as indented JSON.
func (s *FileDetailsStore) SaveDetails(ctx context.Context, details report.Details) error {
	data, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return errors.Wrapf(err, errors.ReportInvalid, "marshal details")
	}
	data = append(data, '\n')
	if err := writeAtomic(s.path, data); err != nil {
		return errors.Wrapf(err, errors.StatusPersistFailed, "write details")
	}
	return nil
}

// LoadDetails reads the last written details.
func (s *FileDetailsStore) LoadDetails(ctx context.Context) (report.Details, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return report.Details{}, errors.NotFoundError("details")
	}
	if err != nil {
		return report.Details{}, errors.Wrapf(err, errors.InternalServerError, "read details")
	}
	var details report.Details
	if err := json.Unmarshal(data, &details); err != nil {
		return report.Details{}, errors.Wrapf(err, errors.InvalidFormat, "decode details")
	}
	return details, nil
}

// writeAtomic writes data to a temp file in the target directory and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
