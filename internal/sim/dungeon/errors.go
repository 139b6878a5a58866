package dungeon

import "errors"

var (
	// ErrDissolved is returned by traversal into an instance that has been
	// dissolved; callers relocate the agent to the entry gateway.
	ErrDissolved = errors.New("instance dissolved")

	// ErrNoPassage is returned when the room has no passage in the requested
	// direction.
	ErrNoPassage = errors.New("no passage in that direction")

	// ErrUncleared is returned when an outward passage refuses traversal
	// because the room's challenge has not been resolved yet.
	ErrUncleared = errors.New("room not cleared")

	// ErrRoomOccupied reports the fatal invariant breach of materializing a
	// coordinate that already holds a different concrete room. It aborts the
	// current traversal step only; the instance stays in its last consistent
	// state.
	ErrRoomOccupied = errors.New("coordinate already materialized")
)
