//go:build !windows

package indexer

import (
	"context"
	"errors"
)

// runMFT is Windows-only; other platforms go straight to the walker.
func (ix *Indexer) runMFT(ctx context.Context, runID int64) error {
	return errors.New("indexer: MFT enumeration requires an NTFS volume")
}
