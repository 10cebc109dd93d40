package ledger

import "sync"

// Process-wide store instance and initialization guard. The settlement agent
// and the admin API run as separate components but must observe the same
// partitions, so they share this instance.
var (
	globalStore *Store
	globalOnce  sync.Once
)

// Global returns the singleton store, creating it on first call.
func Global() *Store {
	globalOnce.Do(func() {
		globalStore = NewStore()
	})
	return globalStore
}

// ResetGlobal resets the global store for testing purposes.
// This is NOT thread-safe and should only be used in tests.
func ResetGlobal() {
	globalOnce = sync.Once{}
	globalStore = nil
}
