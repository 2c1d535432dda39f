package core

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// CellState is the revealed/hidden status of one board cell.
type CellState int

const (
	Hidden CellState = iota
	Revealed
	Hit
)

func (s CellState) String() string {
	switch s {
	case Hidden:
		return "HIDDEN"
	case Revealed:
		return "REVEALED"
	case Hit:
		return "HIT"
	default:
		return "UNKNOWN"
	}
}

// RevealResult is the outcome of a Board.Reveal call.
type RevealResult int

const (
	Safe RevealResult = iota
	HitResult
)

func (r RevealResult) String() string {
	if r == HitResult {
		return "HIT"
	}
	return "SAFE"
}

// Board is an n x n grid with k hazard cells drawn at construction. Hazard
// membership is never exposed except through the HIT/SAFE outcome of
// Reveal; Snapshot never leaks it for still-HIDDEN cells.
type Board struct {
	N       int
	grid    []CellState // row-major, length N*N
	hazards map[int]struct{}
}

// NewBoard draws k distinct hazard positions uniformly from [0, n*n) and
// returns a board with every cell HIDDEN. Determinism across instances is
// not required, so the PRNG is seeded from crypto/rand once per board.
func NewBoard(n, k int) (*Board, error) {
	if n <= 0 {
		return nil, fmt.Errorf("core: grid size must be positive, got %d", n)
	}
	if k <= 0 || k >= n*n {
		return nil, fmt.Errorf("core: hazard count must satisfy 0 < k < n*n, got k=%d n=%d", k, n)
	}

	rng := newSeededRand()
	hazards := make(map[int]struct{}, k)
	for len(hazards) < k {
		pos := rng.IntN(n * n)
		hazards[pos] = struct{}{}
	}

	return &Board{
		N:       n,
		grid:    make([]CellState, n*n),
		hazards: hazards,
	}, nil
}

func newSeededRand() *rand.Rand {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// fall back to a time-independent seed rather than panic.
		binary.LittleEndian.PutUint64(seed[:8], 0x9e3779b97f4a7c15)
	}
	return rand.New(rand.NewChaCha8(seed))
}

// Reveal flips the cell at (x, y) from HIDDEN to REVEALED or HIT. It is
// idempotent: revealing an already-non-HIDDEN cell leaves the grid
// unchanged and returns SAFE, so replaying the same command is harmless.
func (b *Board) Reveal(x, y int) (RevealResult, error) {
	if x < 0 || x >= b.N || y < 0 || y >= b.N {
		return Safe, fmt.Errorf("core: coordinates (%d,%d) out of bounds for %dx%d board", x, y, b.N, b.N)
	}

	idx := x*b.N + y
	if b.grid[idx] != Hidden {
		return Safe, nil
	}

	if _, isHazard := b.hazards[idx]; isHazard {
		b.grid[idx] = Hit
		return HitResult, nil
	}

	b.grid[idx] = Revealed
	return Safe, nil
}

// Clone returns a board whose grid is an independent copy, safe to read
// without the registry's lock while the original continues to be mutated
// by Reveal under that lock. hazards is shared: it is populated once at
// construction and never written again, so aliasing it is race-free.
func (b *Board) Clone() *Board {
	grid := make([]CellState, len(b.grid))
	copy(grid, b.grid)
	return &Board{N: b.N, grid: grid, hazards: b.hazards}
}

// Snapshot is the serializable, client-facing view of a board. Cells still
// HIDDEN never reveal whether they are a hazard.
type Snapshot struct {
	N     int        `json:"n"`
	Cells []CellState `json:"cells"`
}

// Snapshot returns a copy of the grid safe to hand to a client or queue on
// a broadcast channel; the caller's mutations (none intended) can never
// alias the board's own storage.
func (b *Board) Snapshot() Snapshot {
	cells := make([]CellState, len(b.grid))
	copy(cells, b.grid)
	return Snapshot{N: b.N, Cells: cells}
}

// HazardCount reports k, the number of hazard cells drawn at construction.
func (b *Board) HazardCount() int {
	return len(b.hazards)
}

// MarshalJSON renders a Board as its Snapshot: grid and hazards are
// unexported precisely so that any serialization path — this one included —
// is forced through the hazard-hiding view rather than the raw grid.
func (b *Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

// MarshalJSON renders a cell as its wire name ("HIDDEN", "REVEALED", "HIT").
func (s CellState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
