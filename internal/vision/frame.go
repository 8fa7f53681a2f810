// Package vision acquires camera frames and hands the newest one to the
// detector. Production and consumption are decoupled through a one-frame Slot:
// a frame that nobody picked up before the next one arrived is dropped.
package vision

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one grayscale camera image. Seq increases by one per published frame.
type Frame struct {
	Seq      uint64
	Captured time.Time
	Image    *image.Gray
}

// Source yields frames newer than a sequence number the caller already consumed.
type Source interface {
	// Next returns the latest frame if it is newer than after. It never blocks.
	Next(after uint64) (Frame, bool)
	// Wait blocks until a frame newer than after is available.
	Wait(ctx context.Context, after uint64) (Frame, error)
}

// Slot is the bounded latest-frame buffer between a Capturer and its consumers.
type Slot struct {
	mu      sync.Mutex
	frame   Frame
	taken   uint64
	updated chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{updated: make(chan struct{})}
}

// Publish stores img as the newest frame, replacing any unconsumed one.
func (s *Slot) Publish(img *image.Gray, at time.Time) Frame {
	s.mu.Lock()
	if s.frame.Seq > s.taken {
		s.dropped.Add(1)
	}
	s.frame = Frame{Seq: s.frame.Seq + 1, Captured: at, Image: img}
	f := s.frame
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()

	s.published.Add(1)
	return f
}

// Next implements Source.
func (s *Slot) Next(after uint64) (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked(after)
}

// Wait implements Source.
func (s *Slot) Wait(ctx context.Context, after uint64) (Frame, error) {
	for {
		s.mu.Lock()
		if f, ok := s.takeLocked(after); ok {
			s.mu.Unlock()
			return f, nil
		}
		updated := s.updated
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-updated:
		}
	}
}

func (s *Slot) takeLocked(after uint64) (Frame, bool) {
	if s.frame.Image == nil || s.frame.Seq <= after {
		return Frame{}, false
	}
	if s.frame.Seq > s.taken {
		s.taken = s.frame.Seq
	}
	return s.frame, true
}

// Published returns the number of frames ever published.
func (s *Slot) Published() uint64 { return s.published.Load() }

// Dropped returns the number of frames replaced before anyone took them.
func (s *Slot) Dropped() uint64 { return s.dropped.Load() }
