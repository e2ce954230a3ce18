package mover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Disk is a tier backed by a local directory.
type Disk struct {
	Root    string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDisk returns a Disk rooted at root, creating the directory if needed.
func NewDisk(root string, limiter *rate.Limiter, logger *zap.Logger) (*Disk, error) {
	if root == "" {
		return nil, fmt.Errorf("disk backend: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("disk backend %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("disk backend %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Disk{Root: abs, limiter: limiter, logger: logger.Named("disk")}, nil
}

func (d *Disk) String() string { return "disk:" + d.Root }

// Path returns where an object named name lives in this backend.
func (d *Disk) Path(name string) string {
	return filepath.Join(d.Root, name)
}

func (d *Disk) Locate(name string) string { return d.Path(name) }

// Size returns the size of the file at location.
func (d *Disk) Size(_ context.Context, location string) (int64, error) {
	fi, err := os.Stat(location)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Put moves the local file src into this backend as name. The move is an
// atomic rename when src is on the same filesystem. Otherwise the bytes are
// copied to a temp file in Root, synced, renamed into place and src is
// removed. Cancellation is honored up to the final rename.
func (d *Disk) Put(ctx context.Context, src, name string) (string, error) {
	dst := d.Path(name)
	if filepath.Clean(src) == dst {
		return dst, nil
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	err := os.Rename(src, dst)
	if err == nil {
		return dst, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return "", fmt.Errorf("rename: %w", err)
	}

	d.logger.Debug("cross-device move, copying", zap.String("src", src), zap.String("dst", dst))
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	if err := d.writeAtomic(ctx, f, dst); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		// Keep a single copy at rest: undo the new one.
		os.Remove(dst)
		return "", fmt.Errorf("remove source: %w", err)
	}
	return dst, nil
}

// Take moves the file at location out of this backend into dst as name.
func (d *Disk) Take(ctx context.Context, location string, dst *Disk, name string) (string, error) {
	return dst.Put(ctx, location, name)
}

// writeAtomic streams r into a temp file beside dst and renames it into place.
func (d *Disk) writeAtomic(ctx context.Context, r io.Reader, dst string) error {
	tmp, err := os.CreateTemp(d.Root, ".tierctl-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := copyThrottled(ctx, tmp, r, d.limiter); err != nil {
		cleanup()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
