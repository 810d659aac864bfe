// Package gamedata decodes a snapshot of the running game's state from raw
// process memory.
package gamedata

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/loykin/ff7link/internal/address"
	"github.com/loykin/ff7link/internal/liaison"
)

// Module ids reported in Basic.CurrentModule.
const (
	ModuleNone   uint16 = 0
	ModuleField  uint16 = 1
	ModuleBattle uint16 = 2
	ModuleWorld  uint16 = 3
)

const (
	// WorldModelSize is the size of one world model record.
	WorldModelSize = 24
	// MaxWorldModels is the number of world model slots.
	MaxWorldModels = 16
)

// Basic holds the scalar part of a snapshot.
type Basic struct {
	CurrentModule uint16  `json:"current_module"`
	WorldMapType  uint16  `json:"world_map_type"`
	ZolomCoords   *uint32 `json:"zolom_coords"`
}

// WorldModel is one entity on the world map. WalkmeshType is the raw byte;
// its top three bits carry the script id (see Script).
type WorldModel struct {
	Index         int    `json:"index"`
	X             int32  `json:"x"`
	Y             int32  `json:"y"`
	Z             int32  `json:"z"`
	Direction     uint16 `json:"direction"`
	ModelID       uint8  `json:"model_id"`
	WalkmeshType  uint8  `json:"walkmesh_type"`
	LocationID    uint16 `json:"location_id"`
	ChocoboTracks bool   `json:"chocobo_tracks"`
}

// Script returns the script id packed into WalkmeshType.
func (m WorldModel) Script() uint8 { return m.WalkmeshType >> 5 }

// Terrain returns WalkmeshType without the script bits.
func (m WorldModel) Terrain() uint8 { return m.WalkmeshType & 0x1f }

// Snapshot is the structured game state returned to the UI.
type Snapshot struct {
	Basic             Basic        `json:"basic"`
	WorldCurrentModel WorldModel   `json:"world_current_model"`
	WorldModels       []WorldModel `json:"world_models"`
}

// Memory is the part of the process liaison the reader needs.
type Memory interface {
	IsRunning() bool
	Name() string
	ReadBuffer(addr address.Address, n int) ([]byte, error)
}

// Reader reads snapshots. Regions are resolved on every Read.
type Reader struct {
	mem Memory
	res address.Resolver
}

// NewReader returns a reader over mem using res for region lookup.
func NewReader(mem Memory, res address.Resolver) *Reader {
	return &Reader{mem: mem, res: res}
}

// Read captures a snapshot. It fails with *liaison.NotRunningError when no
// process is attached; a process that exits mid-read surfaces as a read error.
func (r *Reader) Read(ctx context.Context) (Snapshot, error) {
	if !r.mem.IsRunning() {
		return Snapshot{}, &liaison.NotRunningError{Name: r.mem.Name()}
	}
	var s Snapshot
	var err error

	if s.Basic.CurrentModule, err = r.readU16(address.CurrentModule); err != nil {
		return Snapshot{}, err
	}
	if s.Basic.WorldMapType, err = r.readU16(address.WorldMapType); err != nil {
		return Snapshot{}, err
	}
	if s.Basic.CurrentModule == ModuleWorld {
		z, err := r.readU32(address.ZolomCoords)
		if err != nil {
			return Snapshot{}, err
		}
		if z != 0 {
			s.Basic.ZolomCoords = &z
		}
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	b, err := r.read(address.WorldCurrentModel, WorldModelSize)
	if err != nil {
		return Snapshot{}, err
	}
	s.WorldCurrentModel, _ = DecodeWorldModel(b)

	b, err = r.read(address.WorldModels, WorldModelSize*MaxWorldModels)
	if err != nil {
		return Snapshot{}, err
	}
	s.WorldModels = DecodeWorldModels(b)
	return s, nil
}

func (r *Reader) read(region string, n int) ([]byte, error) {
	addr, err := r.res.Resolve(region)
	if err != nil {
		return nil, err
	}
	b, err := r.mem.ReadBuffer(addr, n)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", region, err)
	}
	if len(b) < n {
		return nil, fmt.Errorf("read %s: got %d of %d bytes", region, len(b), n)
	}
	return b, nil
}

func (r *Reader) readU16(region string) (uint16, error) {
	b, err := r.read(region, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) readU32(region string) (uint32, error) {
	b, err := r.read(region, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// DecodeWorldModel decodes one record. The boolean is false when the slot is
// empty (all zero bytes) or b is short.
//
//	0  x int32       12 direction uint16   16 location_id uint16
//	4  y int32       14 model_id uint8     18 flags uint8 (bit 0: chocobo tracks)
//	8  z int32       15 walkmesh_type uint8
func DecodeWorldModel(b []byte) (WorldModel, bool) {
	if len(b) < WorldModelSize {
		return WorldModel{}, false
	}
	b = b[:WorldModelSize]
	used := false
	for _, c := range b {
		if c != 0 {
			used = true
			break
		}
	}
	le := binary.LittleEndian
	m := WorldModel{
		X:             int32(le.Uint32(b[0:])),
		Y:             int32(le.Uint32(b[4:])),
		Z:             int32(le.Uint32(b[8:])),
		Direction:     le.Uint16(b[12:]),
		ModelID:       b[14],
		WalkmeshType:  b[15],
		LocationID:    le.Uint16(b[16:]),
		ChocoboTracks: b[18]&0x01 != 0,
	}
	return m, used
}

// DecodeWorldModels decodes consecutive records, skipping empty slots. Index
// is the slot number.
func DecodeWorldModels(b []byte) []WorldModel {
	out := make([]WorldModel, 0, MaxWorldModels)
	for i := 0; i < MaxWorldModels && (i+1)*WorldModelSize <= len(b); i++ {
		m, ok := DecodeWorldModel(b[i*WorldModelSize:])
		if !ok {
			continue
		}
		m.Index = i
		out = append(out, m)
	}
	return out
}
