package id

import "sync/atomic"

// Generator provides unique, increasing IDs.
type Generator interface {
	NextID() uint64
}

// Sequence hands out 1, 2, 3... Thread-safe.
type Sequence struct {
	last atomic.Uint64
}

// NewSequence creates a sequence whose first ID is start+1.
func NewSequence(start uint64) *Sequence {
	s := &Sequence{}
	s.last.Store(start)
	return s
}

// NextID returns the next value of the sequence.
func (s *Sequence) NextID() uint64 {
	return s.last.Add(1)
}

// Func adapts the sequence to an int provider, as used for filter uids.
func (s *Sequence) Func() func() int {
	return func() int {
		return int(s.NextID())
	}
}

// InstanceGenerator prefixes a sequence with an instance ID so IDs from
// different processes do not collide.
// Format: (instance_id << 40) | sequence
type InstanceGenerator struct {
	instance uint64
	seq      Sequence
}

// NewInstanceGenerator creates a generator for the given instance ID. Only
// the low 24 bits of the instance ID are used.
func NewInstanceGenerator(instanceID uint64) *InstanceGenerator {
	return &InstanceGenerator{instance: instanceID & (1<<24 - 1)}
}

// NextID generates a unique 64-bit ID.
func (g *InstanceGenerator) NextID() uint64 {
	return g.instance<<40 | (g.seq.NextID() & (1<<40 - 1))
}
