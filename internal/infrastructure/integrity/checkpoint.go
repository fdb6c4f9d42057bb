// Package integrity implements the preference-store hash checkpoint used by
// the local-data tamper probe. Each monitored namespace carries a stored
// digest of its contents; a mismatch between the stored digest and a fresh
// computation is evidence of out-of-band modification.
package integrity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/logger"
)

// hashNamespace holds the stored digests, outside every monitored namespace
// so a digest never hashes itself.
const hashNamespace = "__integrity"

// Checkpoint verifies and commits namespace digests. The same mutex guards
// digest reads and writes so the checkpoint cannot race ahead of or behind
// the data it protects; callers performing a legitimate write must hold the
// write path through Commit.
type Checkpoint struct {
	prefs  repository.PreferenceRepository
	logger logger.Logger

	mu sync.Mutex
}

// NewCheckpoint creates a checkpoint over the given preference store.
func NewCheckpoint(prefs repository.PreferenceRepository, log logger.Logger) *Checkpoint {
	return &Checkpoint{
		prefs:  prefs,
		logger: log.WithComponent("integrity"),
	}
}

// ComputeHash produces an order-independent digest of the contents. Keys are
// sorted before hashing so map iteration order cannot change the result.
func ComputeHash(contents map[string]string) string {
	keys := make([]string, 0, len(contents))
	for k := range contents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, contents[k])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Verify recomputes the namespace digest and compares it against the stored
// checkpoint. It returns true when the namespace shows evidence of
// tampering. A namespace with no stored digest yet is committed and treated
// as clean; the first observation is the trust anchor.
func (c *Checkpoint) Verify(ctx context.Context, namespace string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.prefs.Get(ctx, hashNamespace, namespace)
	if err != nil {
		return false, err
	}

	contents, err := c.prefs.Snapshot(ctx, namespace)
	if err != nil {
		return false, err
	}
	current := ComputeHash(contents)

	if stored == "" {
		if err := c.prefs.Put(ctx, hashNamespace, namespace, current); err != nil {
			return false, err
		}
		return false, nil
	}

	if stored != current {
		c.logger.Warn(ctx, "Preference namespace digest mismatch",
			logger.String("namespace", namespace),
		)
		return true, nil
	}
	return false, nil
}

// Commit recomputes and persists the namespace digest. Integrating code must
// call this after every legitimate write; the checkpoint has no other way to
// distinguish a legitimate update from tampering.
func (c *Checkpoint) Commit(ctx context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	contents, err := c.prefs.Snapshot(ctx, namespace)
	if err != nil {
		return err
	}
	return c.prefs.Put(ctx, hashNamespace, namespace, ComputeHash(contents))
}

// Write stores a value and refreshes the namespace digest under the same
// lock, keeping data and checkpoint atomic with respect to Verify.
func (c *Checkpoint) Write(ctx context.Context, namespace, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.prefs.Put(ctx, namespace, key, value); err != nil {
		return err
	}
	contents, err := c.prefs.Snapshot(ctx, namespace)
	if err != nil {
		return err
	}
	return c.prefs.Put(ctx, hashNamespace, namespace, ComputeHash(contents))
}
