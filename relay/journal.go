package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/cqnwatch/encoding"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrJournalClosed is returned by every Journal operation after Close
var ErrJournalClosed = errors.New("relay journal is closed")

// Key layout:
//
//	/j/{8-byte big-endian seq}  -> compressed msgpack Record
//	/cursor/{sink}              -> last published seq
//	/seq                        -> last assigned seq
var (
	prefixRecord = []byte("/j/")
	prefixCursor = []byte("/cursor/")
	keySeq       = []byte("/seq")
)

const (
	memTableSize             = 16 << 20
	l0CompactionThreshold    = 2
	maxConcurrentCompactions = 2

	defaultReadLimit = 100
	gcIntervalMask   = 0x7F // collect every 128 sequences
)

// Journal is a Pebble-backed append-only log of records with one persistent
// cursor per sink. Entries every cursor has passed are deleted in the
// background.
type Journal struct {
	db   *pebble.DB
	path string

	mu      sync.Mutex // serializes Append
	nextSeq atomic.Uint64

	cursorsMu sync.RWMutex
	cursors   map[string]uint64

	gcMu      sync.Mutex
	gcRunning atomic.Bool
	gcWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenJournal opens or creates the journal stored at path
func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{
		MemTableSize:             memTableSize,
		L0CompactionThreshold:    l0CompactionThreshold,
		MaxConcurrentCompactions: func() int { return maxConcurrentCompactions },
	})
	if err != nil {
		return nil, fmt.Errorf("open relay journal at %s: %w", path, err)
	}

	j := &Journal{db: db, path: path, cursors: make(map[string]uint64)}
	if err := j.load(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) load() error {
	val, closer, err := j.db.Get(keySeq)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load sequence: %w", err)
	default:
		seq, err := decodeUint64(val)
		closer.Close()
		if err != nil {
			return fmt.Errorf("load sequence: %w", err)
		}
		j.nextSeq.Store(seq)
	}

	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixCursor,
		UpperBound: prefixUpperBound(prefixCursor),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		sink := string(iter.Key()[len(prefixCursor):])
		cursor, err := decodeUint64(iter.Value())
		if err != nil {
			return fmt.Errorf("corrupted cursor for sink %s: %w", sink, err)
		}
		j.cursors[sink] = cursor
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(j.cursors) > 0 {
		log.Info().Int("cursors", len(j.cursors)).Uint64("seq", j.nextSeq.Load()).Msg("Loaded relay journal")
	}
	return nil
}

// Append assigns sequence numbers to recs in place and writes them in one
// batch.
func (j *Journal) Append(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	if j.closed.Load() {
		return ErrJournalClosed
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	batch := j.db.NewBatch()
	defer batch.Close()

	seq := j.nextSeq.Load()
	for i := range recs {
		seq++
		recs[i].Seq = seq

		val, err := encoding.MarshalCompressed(&recs[i])
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := batch.Set(recordKey(seq), val, nil); err != nil {
			return err
		}
	}
	if err := batch.Set(keySeq, encodeUint64(seq), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit relay batch: %w", err)
	}

	j.nextSeq.Store(seq)
	telemetry.RelayAppendedTotal.Add(float64(len(recs)))
	return nil
}

// ReadFrom returns up to limit records with seq > cursor
func (j *Journal) ReadFrom(cursor uint64, limit int) ([]Record, error) {
	if j.closed.Load() {
		return nil, ErrJournalClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := recordKey(cursor + 1)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound(prefixRecord),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	recs := make([]Record, 0, limit)
	for iter.First(); iter.Valid() && len(recs) < limit; iter.Next() {
		var rec Record
		if err := encoding.UnmarshalCompressed(iter.Value(), &rec); err != nil {
			log.Warn().Err(err).Hex("key", iter.Key()).Msg("Skipping undecodable relay record")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

// LastSeq is the highest sequence appended so far
func (j *Journal) LastSeq() uint64 {
	return j.nextSeq.Load()
}

// Cursor returns the last seq published by sink, 0 for a new sink
func (j *Journal) Cursor(sink string) (uint64, error) {
	if j.closed.Load() {
		return 0, ErrJournalClosed
	}
	j.cursorsMu.RLock()
	defer j.cursorsMu.RUnlock()
	return j.cursors[sink], nil
}

// AdvanceCursor persists the cursor of sink and periodically triggers GC
func (j *Journal) AdvanceCursor(sink string, seq uint64) error {
	if j.closed.Load() {
		return ErrJournalClosed
	}

	j.cursorsMu.Lock()
	j.cursors[sink] = seq
	j.cursorsMu.Unlock()

	key := append(append([]byte(nil), prefixCursor...), sink...)
	if err := j.db.Set(key, encodeUint64(seq), pebble.Sync); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}

	if seq&gcIntervalMask == 0 && j.gcRunning.CompareAndSwap(false, true) {
		j.gcWg.Add(1)
		go func() {
			defer j.gcWg.Done()
			defer j.gcRunning.Store(false)
			j.collect()
		}()
	}
	return nil
}

// collect deletes every record at or below the smallest cursor
func (j *Journal) collect() {
	j.gcMu.Lock()
	defer j.gcMu.Unlock()

	if j.closed.Load() {
		return
	}

	j.cursorsMu.RLock()
	if len(j.cursors) == 0 {
		j.cursorsMu.RUnlock()
		return
	}
	low := ^uint64(0)
	for _, c := range j.cursors {
		low = min(low, c)
	}
	j.cursorsMu.RUnlock()

	if low == 0 {
		return
	}

	if err := j.db.DeleteRange(recordKey(0), recordKey(low+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("cursor", low).Msg("Relay journal GC failed")
		return
	}
	log.Debug().Uint64("cursor", low).Msg("Relay journal collected")
}

// Close waits for a running GC and closes the store
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return ErrJournalClosed
	}
	j.gcWg.Wait()
	return j.db.Close()
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(prefixRecord)+8)
	copy(key, prefixRecord)
	binary.BigEndian.PutUint64(key[len(prefixRecord):], seq)
	return key
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// prefixUpperBound returns the smallest key greater than every key with prefix
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
