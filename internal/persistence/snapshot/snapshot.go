// Package snapshot archives dissolved instances as zstd-compressed dumps.
// Each file starts with one JSON header line followed by a gob body, so a
// tool can identify an archive without decoding the whole graph.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"delvecraft.io/internal/sim/dungeon"
)

type Header struct {
	Version    int    `json:"version"`
	InstanceID string `json:"instance_id"`
	Rooms      int    `json:"rooms"`
	ArchivedAt string `json:"archived_at"`
}

type InstanceDumpV1 struct {
	Header Header `json:"header"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Unexplored   int       `json:"unexplored"`

	MaxUnexploredExits int `json:"max_unexplored_exits"`
	MaxNewExitsPerRoom int `json:"max_new_exits_per_room"`

	Rooms []RoomV1 `json:"rooms"`
}

type RoomV1 struct {
	X        int         `json:"x"`
	Y        int         `json:"y"`
	Depth    int         `json:"depth"`
	Cleared  bool        `json:"cleared"`
	Title    string      `json:"title,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	Threat   string      `json:"threat,omitempty"`
	Passages []PassageV1 `json:"passages"`
}

type PassageV1 struct {
	Dir    string `json:"dir"`
	ToX    int    `json:"to_x"`
	ToY    int    `json:"to_y"`
	Return bool   `json:"return,omitempty"`
	Bound  bool   `json:"bound,omitempty"`
}

// FromExport flattens an instance export into the archive shape.
func FromExport(e dungeon.Export) InstanceDumpV1 {
	dump := InstanceDumpV1{
		Header: Header{
			Version:    1,
			InstanceID: e.ID,
			Rooms:      len(e.Rooms),
			ArchivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
		CreatedAt:          e.CreatedAt,
		LastActivity:       e.LastActivity,
		Unexplored:         e.Unexplored,
		MaxUnexploredExits: e.Config.MaxUnexploredExits,
		MaxNewExitsPerRoom: e.Config.MaxNewExitsPerRoom,
		Rooms:              make([]RoomV1, 0, len(e.Rooms)),
	}
	for _, r := range e.Rooms {
		rv := RoomV1{
			X:       r.At.X,
			Y:       r.At.Y,
			Depth:   r.Depth,
			Cleared: r.Cleared,
			Title:   r.Content.Title,
			Detail:  r.Content.Description,
			Threat:  r.Content.Challenge,
		}
		for _, p := range r.Passages {
			rv.Passages = append(rv.Passages, PassageV1{
				Dir:    p.Dir.String(),
				ToX:    p.To.X,
				ToY:    p.To.Y,
				Return: p.Return,
				Bound:  p.Bound,
			})
		}
		dump.Rooms = append(dump.Rooms, rv)
	}
	return dump
}

func WriteDump(path string, dump InstanceDumpV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 64*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(dump.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&dump); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadDump(path string) (InstanceDumpV1, error) {
	var dump InstanceDumpV1
	f, err := os.Open(path)
	if err != nil {
		return dump, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return dump, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Header line; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&dump); err != nil {
		return dump, fmt.Errorf("gob decode: %w", err)
	}
	return dump, nil
}

// Archiver writes one file per dissolved instance under its directory,
// satisfying the gateway's archive hook.
type Archiver struct {
	Dir string
}

func (a *Archiver) ArchiveInstance(e dungeon.Export) error {
	if a == nil || a.Dir == "" {
		return nil
	}
	path := filepath.Join(a.Dir, e.ID+".delve.zst")
	return WriteDump(path, FromExport(e))
}
