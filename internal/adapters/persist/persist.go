// Package persist writes raw calibration input to disk so a session can be
// recomputed later without collecting again.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
)

const fileTimeLayout = "20060102T150405"

var (
	// ErrNoDirectory means the dumper was created without a target directory.
	ErrNoDirectory = errors.New("persist: no dump directory configured")
	// ErrInvalidName rejects dump names that are not a bare file name.
	ErrInvalidName = errors.New("persist: invalid dump name")
)

// Dumper writes one JSON file per session into Dir.
type Dumper struct {
	Dir    string
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Dumper.
type Option func(*Dumper)

// WithClock overrides time.Now for file names.
func WithClock(now func() time.Time) Option {
	return func(d *Dumper) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDumper creates a dumper for dir. The directory is created on first use.
func NewDumper(dir string, opts ...Option) *Dumper {
	d := &Dumper{Dir: dir, now: time.Now, logger: logger.Get().Named("persist")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FileName is the dump name for a session created at t.
func FileName(t time.Time, sessionID string) string {
	return fmt.Sprintf("calibration-%s-%s.json", t.UTC().Format(fileTimeLayout), sessionID)
}

// Dump writes in and returns the file path. A missing session id or
// creation time is filled in.
func (d *Dumper) Dump(ctx context.Context, in model.CalibrationInput) (string, error) {
	if d.Dir == "" {
		return "", ErrNoDirectory
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = d.now().UTC()
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump directory: %w", err)
	}

	raw, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode calibration input: %w", err)
	}

	path := filepath.Join(d.Dir, FileName(in.CreatedAt, in.SessionID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", fmt.Errorf("write calibration dump: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write calibration dump: %w", err)
	}

	d.logger.Info(ctx, "calibration input saved",
		logger.String("path", path), logger.Int("target_samples", len(in.Target)), logger.Int("reference_samples", len(in.Reference)))
	return path, nil
}

// Load reads a dump written by Dump.
func Load(path string) (model.CalibrationInput, error) {
	var in model.CalibrationInput
	raw, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("read calibration dump: %w", err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode calibration dump %s: %w", path, err)
	}
	return in, nil
}

// Open loads the dump called name from Dir. name must be a bare file name
// as returned in a dump path's base; separators and dot names are refused
// so callers cannot reach outside Dir.
func (d *Dumper) Open(name string) (model.CalibrationInput, error) {
	if d.Dir == "" {
		return model.CalibrationInput{}, ErrNoDirectory
	}
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || filepath.IsAbs(name) {
		return model.CalibrationInput{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return Load(filepath.Join(d.Dir, name))
}
