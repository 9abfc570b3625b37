package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/core"
)

// SinglePersister makes single-version writes durable for file-backed engines.
type SinglePersister interface {
	LoadSingle() ([]core.Pair[[]byte, []byte], error)
	PersistSingle(key, value []byte, remove bool) error
}

// SingleVersion keeps only the latest value per key. One reader-writer lock
// guards the whole store: readers share it, a writer excludes everyone.
type SingleVersion struct {
	lock sync.RWMutex
	data btree.Map[string, []byte]
	sink SinglePersister
}

// NewSingleVersion loads the persisted state of sink; a nil sink keeps data in memory only.
func NewSingleVersion(sink SinglePersister) (*SingleVersion, error) {
	s := &SingleVersion{sink: sink}
	if sink == nil {
		return s, nil
	}
	pairs, err := sink.LoadSingle()
	if err != nil {
		return nil, err
	}
	for _, pair := range pairs {
		s.data.Set(string(pair.Key), pair.Val)
	}
	return s, nil
}

func (s *SingleVersion) Get(key []byte) ([]byte, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	value, ok := s.data.Get(string(key))
	return bytes.Clone(value), ok, nil
}

func (s *SingleVersion) Contains(key []byte) (bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.data.Get(string(key))
	return ok, nil
}

func (s *SingleVersion) Set(key, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.set(key, value)
}

func (s *SingleVersion) Remove(key []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.remove(key)
}

func (s *SingleVersion) set(key, value []byte) error {
	if len(key) == 0 {
		return core.EmptyKeyErr
	}
	if value == nil {
		value = []byte{}
	}
	if s.sink != nil {
		if err := s.sink.PersistSingle(key, value, false); err != nil {
			return err
		}
	}
	s.data.Set(string(key), bytes.Clone(value))
	return nil
}

func (s *SingleVersion) remove(key []byte) error {
	if _, ok := s.data.Get(string(key)); !ok {
		return nil
	}
	if s.sink != nil {
		if err := s.sink.PersistSingle(key, nil, true); err != nil {
			return err
		}
	}
	s.data.Delete(string(key))
	return nil
}

func (s *SingleVersion) ScanPrefix(prefix []byte) ([]core.Pair[[]byte, []byte], error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var out []core.Pair[[]byte, []byte]
	s.data.Ascend(string(prefix), func(key string, value []byte) bool {
		if !bytes.HasPrefix([]byte(key), prefix) {
			return false
		}
		out = append(out, core.Pair[[]byte, []byte]{Key: []byte(key), Val: bytes.Clone(value)})
		return true
	})
	return out, nil
}

// SingleWriter is handed to Update and operates under the held write lock.
type SingleWriter struct {
	s *SingleVersion
}

func (w SingleWriter) Get(key []byte) ([]byte, bool) {
	value, ok := w.s.data.Get(string(key))
	return bytes.Clone(value), ok
}

func (w SingleWriter) Set(key, value []byte) error { return w.s.set(key, value) }

func (w SingleWriter) Remove(key []byte) error { return w.s.remove(key) }

// Update runs fn while holding the write lock, for read-modify-write sequences.
// Writes done before fn fails are kept.
func (s *SingleVersion) Update(fn func(w SingleWriter) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn(SingleWriter{s: s})
}

// NextSequence increments the u64 counter stored at key and returns the new value.
func (s *SingleVersion) NextSequence(key []byte) (uint64, error) {
	var next uint64
	err := s.Update(func(w SingleWriter) error {
		current, ok := w.Get(key)
		if ok {
			if len(current) != 8 {
				return fmt.Errorf("sequence %x: %w", key, core.CorruptedSegmentErr)
			}
			next = binary.BigEndian.Uint64(current)
		}
		next++
		return w.Set(key, binary.BigEndian.AppendUint64(nil, next))
	})
	return next, err
}
