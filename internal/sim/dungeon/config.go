package dungeon

import "fmt"

// Config bounds the branching of one instance's generated graph. Both limits
// are enforced by silently choosing fewer or zero exits during generation,
// never by failing a traversal.
type Config struct {
	// MaxUnexploredExits caps how many unmaterialized passages may exist in
	// the whole instance at any time.
	MaxUnexploredExits int
	// MaxNewExitsPerRoom caps how many outward passages a newly materialized
	// room may receive, on top of its mandatory return passage.
	MaxNewExitsPerRoom int
}

// Validate rejects non-positive limits at instance-creation time so the
// generation logic never sees them.
func (c Config) Validate() error {
	if c.MaxUnexploredExits < 1 {
		return fmt.Errorf("max_unexplored_exits must be >= 1, got %d", c.MaxUnexploredExits)
	}
	if c.MaxNewExitsPerRoom < 1 {
		return fmt.Errorf("max_new_exits_per_room must be >= 1, got %d", c.MaxNewExitsPerRoom)
	}
	return nil
}
