package content

import (
	"fmt"

	"delvecraft.io/internal/sim/dungeon"
)

// Factory generates room content from the catalog. Safe for concurrent use;
// it keeps no mutable state.
type Factory struct {
	cat  *Catalog
	seed int64
}

func NewFactory(cat *Catalog, seed int64) *Factory {
	return &Factory{cat: cat, seed: seed}
}

func (f *Factory) GenerateRoomContent(inst *dungeon.Instance, depth int, at dungeon.Coord) dungeon.RoomContent {
	theme := f.cat.ThemeFor(depth)
	// Fold the instance id into the seed so two instances at the same seed
	// still diverge, while a fixed id+seed pair stays reproducible.
	seed := f.seed ^ int64(foldString(inst.ID()))
	return dungeon.RoomContent{
		Title:       pick(theme.Titles, hash2(seed, at.X, at.Y)),
		Description: fmt.Sprintf("%s The air here belongs to %s.", pick(theme.Details, hash2(seed+1, at.X, at.Y)), theme.Name),
		Challenge:   pick(theme.Challenges, hash2(seed+2, at.X, at.Y)),
	}
}

func pick(pool []string, h uint64) string {
	return pool[h%uint64(len(pool))]
}
