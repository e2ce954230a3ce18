package mover

import (
	"errors"
	"fmt"

	"github.com/lazypower/tierctl/internal/tier"
)

var (
	// ErrIllegalTransition rejects a plan entry whose tiers are not adjacent.
	ErrIllegalTransition = errors.New("illegal tier transition")
	// ErrBusy rejects a move for an object that already has one in flight.
	ErrBusy = errors.New("move already in flight")
	// ErrNoRow is the cause of a SyncError when the catalog matched no record.
	ErrNoRow = errors.New("catalog update matched no row")
	// ErrDestinationExists refuses to overwrite an unrelated object.
	ErrDestinationExists = errors.New("destination already exists")
	// ErrArchiveUnreachable fails Cold moves when the archive could not be dialed.
	ErrArchiveUnreachable = errors.New("archive unreachable")
)

// TransferError means the bytes did not move. The catalog was not touched.
type TransferError struct {
	ID       string
	From, To tier.Tier
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("move %s %v->%v: %v", e.ID, e.From, e.To, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// SyncError means the bytes moved but the catalog still describes the old
// location. The object now lives at Location on tier To.
type SyncError struct {
	ID       string
	To       tier.Tier
	Location string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("move %s: bytes now at %s (%v) but catalog not updated: %v", e.ID, e.Location, e.To, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
