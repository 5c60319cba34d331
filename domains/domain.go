// Package domains wraps the core allocator's four epoch operations in
// a context.Context-scoped lifetime convenience: open a domain, hold
// it for as long as work is outstanding, close it when the last
// holder is done. It never touches slabs, lists, or bitmaps.
package domains

import (
	"context"
	"fmt"
	"sync"

	"github.com/blackwell-systems/temporal-slab-sub002/slab"
)

// Domain is one open epoch plus the bookkeeping needed to close it
// exactly once, after every holder has released it.
type Domain struct {
	alloc *slab.Allocator
	epoch uint32
	label string

	mu   sync.Mutex
	done bool
}

// OpenDomain advances the allocator to a fresh epoch, labels it, and
// returns a handle for scoping work to that epoch's lifetime.
func OpenDomain(alloc *slab.Allocator, label string) (*Domain, error) {
	_, opened := alloc.EpochAdvance()
	if err := alloc.SetLabel(opened, label); err != nil {
		return nil, fmt.Errorf("domains: label epoch %d: %w", opened, err)
	}
	return &Domain{alloc: alloc, epoch: opened, label: label}, nil
}

// Epoch returns the epoch ring index backing this domain.
func (d *Domain) Epoch() uint32 { return d.epoch }

// Allocate is a convenience forward to the underlying allocator scoped
// to this domain's epoch.
func (d *Domain) Allocate(size uint32) ([]byte, slab.Handle, error) {
	return d.alloc.Allocate(size, d.epoch)
}

// Hold increments the domain's refcount for the lifetime of ctx (or
// until release is called, whichever comes first), returning a
// release func the caller must invoke exactly once.
func (d *Domain) Hold(ctx context.Context) (release func(), err error) {
	if _, err := d.alloc.IncRefcount(d.epoch); err != nil {
		return nil, err
	}
	var once sync.Once
	release = func() {
		once.Do(func() {
			_, _ = d.alloc.DecRefcount(d.epoch)
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			release()
		}()
	}
	return release, nil
}

// Close marks the domain done and immediately reclaims its slabs via
// epoch_close, whether or not holders remain; it neither waits for nor
// checks the refcount. Releasing a holder afterwards only decrements
// the refcount and does not trigger reclamation. A second Close
// returns an error.
func (d *Domain) Close() (scanned, recycled int, err error) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return 0, 0, fmt.Errorf("domains: epoch %d already closed", d.epoch)
	}
	d.done = true
	d.mu.Unlock()

	return d.alloc.EpochClose(d.epoch)
}
