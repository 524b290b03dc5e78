// Package segment implements the UM-32 segmented memory manager: a table of
// dynamically sized word arrays addressed by a recyclable integer id, plus
// the bulk loader that turns a program image into segment 0.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Sentinel error kinds. ProgramFault-class callers wrap these with PC/opcode
// context; callers that only need the kind can use errors.Is.
var (
	ErrInvalidSegment       = errors.New("invalid segment id")
	ErrOutOfBounds          = errors.New("offset out of bounds")
	ErrSegmentLimitExceeded = errors.New("segment id space exhausted")
)

// programID is the reserved, always-present id of the executing program.
const programID uint32 = 0

// Store owns every mapped segment and the pool of ids released by Unmap.
//
// segments is a dense vector indexed by id; a nil entry means the id is not
// currently mapped. free holds ids released by Unmap, issued back out on the
// next Map call before the high-water mark (len(segments)) is extended.
type Store struct {
	segments [][]uint32
	free     []uint32
}

// New returns a Store with only segment 0 present, zero length.
func New() *Store {
	return &Store{segments: [][]uint32{{}}}
}

// LoadProgram reads r in 4-byte big-endian groups and installs the result as
// segment 0. A trailing partial word (1-3 leftover bytes) is discarded,
// matching the reference implementation (spec §9, open question).
func (s *Store) LoadProgram(r io.Reader) error {
	words := []uint32{}
	buf := make([]byte, 4)
	for {
		n, err := io.ReadFull(r, buf)
		if n == 4 {
			words = append(words, binary.BigEndian.Uint32(buf))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read program image: %w", err)
		}
	}

	s.segments[programID] = words
	return nil
}

// Map allocates a size-word zero-initialized segment and returns its id.
func (s *Store) Map(size uint32) (uint32, error) {
	seg := make([]uint32, size)

	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.segments[id] = seg
		return id, nil
	}

	id := uint32(len(s.segments))
	if id == 0xFFFFFFFF {
		return 0, ErrSegmentLimitExceeded
	}
	s.segments = append(s.segments, seg)
	return id, nil
}

// Unmap releases the segment at id back to the free-id pool.
func (s *Store) Unmap(id uint32) error {
	if id == programID || !s.present(id) {
		return fmt.Errorf("%w: %d", ErrInvalidSegment, id)
	}

	s.segments[id] = nil
	s.free = append(s.free, id)
	return nil
}

// Load returns the word at (id, off).
func (s *Store) Load(id, off uint32) (uint32, error) {
	seg, err := s.bounds(id, off)
	if err != nil {
		return 0, err
	}
	return seg[off], nil
}

// StoreWord overwrites the word at (id, off).
func (s *Store) StoreWord(id, off, word uint32) error {
	seg, err := s.bounds(id, off)
	if err != nil {
		return err
	}
	seg[off] = word
	return nil
}

// CloneToZero duplicates segment id and replaces segment 0's storage with
// the copy. A no-op when id is already 0. Segment id itself is untouched.
func (s *Store) CloneToZero(id uint32) error {
	if id == programID {
		return nil
	}
	if !s.present(id) {
		return fmt.Errorf("%w: %d", ErrInvalidSegment, id)
	}

	clone := make([]uint32, len(s.segments[id]))
	copy(clone, s.segments[id])
	s.segments[programID] = clone
	return nil
}

// ProgramLen returns the number of words in segment 0.
func (s *Store) ProgramLen() uint32 {
	return uint32(len(s.segments[programID]))
}

// Fetch returns the word at (0, off), used by the execution core's fetch
// step. It is exactly Load(0, off) spelled out for callers that hot-loop it.
func (s *Store) Fetch(off uint32) (uint32, error) {
	return s.Load(programID, off)
}

func (s *Store) present(id uint32) bool {
	return id < uint32(len(s.segments)) && s.segments[id] != nil
}

func (s *Store) bounds(id, off uint32) ([]uint32, error) {
	if !s.present(id) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSegment, id)
	}
	seg := s.segments[id]
	if off >= uint32(len(seg)) {
		return nil, fmt.Errorf("%w: segment %d offset %d (len %d)", ErrOutOfBounds, id, off, len(seg))
	}
	return seg, nil
}
