package dungeon

import "time"

// Export is a point-in-time copy of the instance graph, used by the dissolve
// archive and by tests. It shares no pointers with the live instance.
type Export struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	Unexplored   int
	Config       Config
	Rooms        []RoomExport
}

type RoomExport struct {
	At       Coord
	Depth    int
	Cleared  bool
	Content  RoomContent
	Passages []PassageExport
}

type PassageExport struct {
	Dir    Direction
	To     Coord
	Return bool
	Bound  bool
}

func (i *Instance) Export() Export {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exportLocked()
}

func (i *Instance) exportLocked() Export {
	out := Export{
		ID:           i.id,
		CreatedAt:    i.createdAt,
		LastActivity: i.lastActivity,
		Unexplored:   i.unexplored,
		Config:       i.cfg,
		Rooms:        make([]RoomExport, 0, len(i.rooms)),
	}
	for _, r := range i.rooms {
		re := RoomExport{
			At:      r.at,
			Depth:   r.at.Depth(),
			Cleared: r.cleared,
			Content: r.content,
		}
		for _, d := range Directions {
			if p := r.passages[d]; p != nil {
				re.Passages = append(re.Passages, PassageExport{
					Dir:    p.Dir,
					To:     p.To,
					Return: p.Return,
					Bound:  p.bound,
				})
			}
		}
		out.Rooms = append(out.Rooms, re)
	}
	return out
}
