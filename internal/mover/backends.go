package mover

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/config"
	"github.com/lazypower/tierctl/internal/tier"
)

// Backend is where one tier keeps its bytes.
type Backend interface {
	// Put moves the local file src into the backend as name and returns the
	// new location. src no longer exists on success.
	Put(ctx context.Context, src, name string) (string, error)
	// Take moves the object at location into dst as name and returns the new
	// local path. The backend no longer holds it on success.
	Take(ctx context.Context, location string, dst *Disk, name string) (string, error)
	Size(ctx context.Context, location string) (int64, error)
	// Locate returns the location an object named name has in this backend.
	Locate(name string) string
	String() string
}

// Backends maps each tier to its backend. Hot and Warm are always local.
type Backends struct {
	Hot  *Disk
	Warm *Disk
	Cold Backend
}

// For returns the backend that stores tier t.
func (b Backends) For(t tier.Tier) Backend {
	switch t {
	case tier.Hot, tier.Warm:
		// A nil *Disk must not become a non-nil Backend.
		if d := b.local(t); d != nil {
			return d
		}
	case tier.Cold:
		return b.Cold
	}
	return nil
}

func (b Backends) local(t tier.Tier) *Disk {
	switch t {
	case tier.Hot:
		return b.Hot
	case tier.Warm:
		return b.Warm
	}
	return nil
}

// Probe reports which tiers hold an object named name.
func (b Backends) Probe(ctx context.Context, name string) []tier.Tier {
	var found []tier.Tier
	for _, t := range tier.All() {
		be := b.For(t)
		if be == nil {
			continue
		}
		if _, err := be.Size(ctx, be.Locate(name)); err == nil {
			found = append(found, t)
		}
	}
	return found
}

// NewBackends builds the tier backends from cfg. With archival simulation
// on, Cold is a local directory; otherwise it is the configured archive.
func NewBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (Backends, error) {
	return newBackends(ctx, cfg, true, logger)
}

// NewLocalBackends is NewBackends without dialing a remote archive. Cold is
// left nil unless archival simulation is on.
func NewLocalBackends(cfg config.Config, logger *zap.Logger) (Backends, error) {
	return newBackends(context.Background(), cfg, false, logger)
}

func newBackends(ctx context.Context, cfg config.Config, dial bool, logger *zap.Logger) (Backends, error) {
	limiter := NewLimiter(cfg.Executor.BandwidthBytesPerSec)

	hot, err := NewDisk(cfg.Paths.Hot, limiter, logger)
	if err != nil {
		return Backends{}, fmt.Errorf("hot tier: %w", err)
	}
	warm, err := NewDisk(cfg.Paths.Warm, limiter, logger)
	if err != nil {
		return Backends{}, fmt.Errorf("warm tier: %w", err)
	}

	var cold Backend
	switch {
	case cfg.UseArchivalSimulation:
		cold, err = NewDisk(cfg.ArchivalSimulationPath, limiter, logger)
	case dial:
		cold, err = DialArchive(ctx, cfg.Archive, limiter, logger)
		if err != nil {
			// Only moves into or out of Cold depend on the archive.
			if logger != nil {
				logger.Warn("archive unreachable, cold moves will fail", zap.Error(err))
			}
			cold, err = NewUnreachable(cfg.Archive.Bucket, err), nil
		}
	}
	if err != nil {
		return Backends{}, fmt.Errorf("cold tier: %w", err)
	}
	return Backends{Hot: hot, Warm: warm, Cold: cold}, nil
}

// Unreachable stands in for an archive that could not be dialed. Every
// transfer fails with the dial error.
type Unreachable struct {
	Bucket string
	Err    error
}

func NewUnreachable(bucket string, err error) *Unreachable {
	return &Unreachable{Bucket: bucket, Err: err}
}

func (u *Unreachable) String() string { return archiveScheme + u.Bucket }

func (u *Unreachable) Locate(name string) string { return archiveScheme + u.Bucket + "/" + name }

func (u *Unreachable) Put(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: %w", ErrArchiveUnreachable, u.Err)
}

func (u *Unreachable) Take(context.Context, string, *Disk, string) (string, error) {
	return "", fmt.Errorf("%w: %w", ErrArchiveUnreachable, u.Err)
}

func (u *Unreachable) Size(context.Context, string) (int64, error) {
	return 0, fmt.Errorf("%w: %w", ErrArchiveUnreachable, u.Err)
}
