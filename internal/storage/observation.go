// Package storage records the snapshots that confirmed moves, for tuning the
// occupancy detector offline. It is not a game history.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
	"gorgonia.org/tensor"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/detect"
)

const (
	// BucketName holds the samples keyed by ring position.
	BucketName = "observations"

	// MetaBucket holds store metadata.
	MetaBucket = "meta"

	// CountKey tracks the total number of samples ever stored.
	CountKey = "count"
)

// PlaneSize is the length of Sample.Planes.
const PlaneSize = detect.NumPlanes * board.NumSquares

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Sample is one recorded snapshot.
type Sample struct {
	Session   string    `json:"session"`
	Ply       int       `json:"ply"`
	Move      string    `json:"move"`
	Frame     uint64    `json:"frame"`
	Planes    []float64 `json:"planes"`
	Timestamp int64     `json:"timestamp"`
}

// Snapshot decodes the sample's planes.
func (s Sample) Snapshot() (board.Snapshot, bool) {
	if len(s.Planes) != PlaneSize {
		return board.Snapshot{}, false
	}
	t := tensor.New(tensor.WithShape(detect.NumPlanes, 8, 8), tensor.WithBacking(append([]float64(nil), s.Planes...)))
	return detect.FromPlanes(t)
}

// ObservationStore is a bbolt-backed ring buffer of samples. Once maxSize
// samples are stored the oldest are overwritten.
type ObservationStore struct {
	db       *bbolt.DB
	dbPath   string
	maxSize  int
	count    uint64
	isClosed bool
}

// NewObservationStore opens or creates the store at dbPath.
func NewObservationStore(dbPath string, maxSize int) (*ObservationStore, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("invalid max size: %d", maxSize)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketName)); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MetaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &ObservationStore{
		db:      db,
		dbPath:  dbPath,
		maxSize: maxSize,
	}

	count, err := store.Count()
	if err != nil {
		db.Close()
		return nil, err
	}
	store.count = count

	return store, nil
}

// Record stores the snapshot that confirmed move at ply of a session.
func (s *ObservationStore) Record(session string, ply int, move board.Move, snap board.Snapshot) error {
	data, ok := detect.Planes(snap).Data().([]float64)
	if !ok {
		return fmt.Errorf("unexpected plane data type")
	}
	return s.Store(Sample{
		Session:   session,
		Ply:       ply,
		Move:      move.UCI(),
		Frame:     snap.FrameSeq(),
		Planes:    data,
		Timestamp: time.Now().Unix(),
	})
}

// Store validates and appends one sample.
func (s *ObservationStore) Store(sample Sample) error {
	if s.isClosed {
		return ErrClosed
	}
	if len(sample.Planes) != PlaneSize {
		return fmt.Errorf("invalid planes size: expected %d, got %d", PlaneSize, len(sample.Planes))
	}
	if sample.Ply < 0 {
		return fmt.Errorf("invalid ply: %d", sample.Ply)
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		if err := b.Put(key(s.count%uint64(s.maxSize)), data); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if err := meta.Put([]byte(CountKey), key(s.count+1)); err != nil {
			return err
		}
		s.count++
		return nil
	})
}

func key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// Recent returns up to n samples, newest first.
func (s *ObservationStore) Recent(n int) ([]Sample, error) {
	if s.isClosed {
		return nil, ErrClosed
	}
	size, err := s.ActualSize()
	if err != nil {
		return nil, err
	}
	n = min(n, size)

	samples := make([]Sample, 0, n)
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		for i := 1; i <= n; i++ {
			data := b.Get(key((s.count - uint64(i)) % uint64(s.maxSize)))
			if data == nil {
				continue
			}
			var sample Sample
			if err := json.Unmarshal(data, &sample); err != nil {
				continue
			}
			samples = append(samples, sample)
		}
		return nil
	})
	return samples, err
}

// Sequential returns up to size samples starting at offset in storage order,
// oldest slot first.
func (s *ObservationStore) Sequential(size, offset int) ([]Sample, error) {
	if s.isClosed {
		return nil, ErrClosed
	}
	total, err := s.ActualSize()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("no samples available")
	}
	if offset >= total {
		return nil, fmt.Errorf("offset exceeds sample count")
	}
	size = min(size, total-offset)

	// Once wrapped, the oldest sample sits at the next write position.
	var first uint64
	if s.count > uint64(s.maxSize) {
		first = s.count % uint64(s.maxSize)
	}

	samples := make([]Sample, 0, size)
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		for i := 0; i < size; i++ {
			data := b.Get(key((first + uint64(offset+i)) % uint64(s.maxSize)))
			if data == nil {
				continue
			}
			var sample Sample
			if err := json.Unmarshal(data, &sample); err != nil {
				continue
			}
			samples = append(samples, sample)
		}
		return nil
	})
	return samples, err
}

// Count returns the number of samples ever stored.
func (s *ObservationStore) Count() (uint64, error) {
	if s.isClosed {
		return 0, ErrClosed
	}

	var count uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if v := meta.Get([]byte(CountKey)); v != nil {
			count = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return count, err
}

// ActualSize returns the number of samples currently held.
func (s *ObservationStore) ActualSize() (int, error) {
	count, err := s.Count()
	if err != nil {
		return 0, err
	}
	if count > uint64(s.maxSize) {
		return s.maxSize, nil
	}
	return int(count), nil
}

// Clear removes all samples.
func (s *ObservationStore) Clear() error {
	if s.isClosed {
		return ErrClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(BucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(BucketName)); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if err := meta.Put([]byte(CountKey), key(0)); err != nil {
			return err
		}
		s.count = 0
		return nil
	})
}

// Close closes the database. It is safe to call more than once.
func (s *ObservationStore) Close() error {
	if s.isClosed {
		return nil
	}
	s.isClosed = true
	return s.db.Close()
}

// Stats describes the store.
type Stats struct {
	TotalSamples  uint64
	ActualSamples int
	MaxSize       int
	DBPath        string
	IsWrapped     bool
}

// GetStats returns current statistics.
func (s *ObservationStore) GetStats() (Stats, error) {
	count, err := s.Count()
	if err != nil {
		return Stats{}, err
	}
	actual, err := s.ActualSize()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalSamples:  count,
		ActualSamples: actual,
		MaxSize:       s.maxSize,
		DBPath:        s.dbPath,
		IsWrapped:     count > uint64(s.maxSize),
	}, nil
}

// ExportJSON writes every held sample, oldest first, to outputPath.
func (s *ObservationStore) ExportJSON(outputPath string) error {
	size, err := s.ActualSize()
	if err != nil {
		return err
	}
	samples := []Sample{}
	if size > 0 {
		if samples, err = s.Sequential(size, 0); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}
