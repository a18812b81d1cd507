package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string // sink name, also the cursor name
	Journal         *Journal
	Sink            Sink
	Transformer     Transformer
	Filter          Filter
	TopicPrefix     string // e.g. "cqn"
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

// Worker polls the journal from its cursor and publishes records to a sink.
// Delivery is at-least-once: a record is published before the cursor moves.
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Journal == nil:
		return nil, fmt.Errorf("journal is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Transformer == nil:
		return nil, fmt.Errorf("transformer is required")
	}

	if config.Filter == nil {
		config.Filter, _ = NewGlobFilter(nil, nil)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Journal.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}

	w := &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	w.cursor.Store(cursor)
	return w, nil
}

// Cursor is the last sequence this worker published or skipped
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.Cursor()).Msg("Starting relay worker")
	go w.pollLoop()
}

// Stop signals the worker and waits for the loop to exit
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)
	log.Info().Str("sink", w.config.Name).Msg("Relay worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		recs, err := w.config.Journal.ReadFrom(w.Cursor(), w.config.BatchSize)
		if err != nil {
			if errors.Is(err, ErrJournalClosed) {
				return
			}
			log.Error().Err(err).Str("sink", w.config.Name).Msg("Failed to read relay journal")
			w.sleep(w.config.PollInterval)
			continue
		}
		if len(recs) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for i := range recs {
			if err := w.process(&recs[i]); err != nil {
				if !errors.Is(err, errWorkerStopped) {
					log.Error().Err(err).Str("sink", w.config.Name).Uint64("seq", recs[i].Seq).Msg("Relay worker giving up")
				}
				return
			}
			w.cursor.Store(recs[i].Seq)
		}
	}
}

// process publishes one record and advances the cursor. Filtered records
// only advance the cursor. Deletes are followed by a tombstone.
func (w *Worker) process(rec *Record) error {
	database, table := rec.Scope()
	if w.config.Filter.Match(database, table) {
		data, err := w.config.Transformer.Transform(*rec)
		if err != nil {
			return fmt.Errorf("transform record %d: %w", rec.Seq, err)
		}

		topic := w.topic(database, table)
		key := rec.Key()
		if err := w.publishWithRetry(topic, key, data); err != nil {
			return err
		}
		if rec.RowID != "" && event.OpCode(rec.Op).Contains(event.OpDelete) {
			if err := w.publishWithRetry(topic, key, w.config.Transformer.Tombstone(key)); err != nil {
				return err
			}
		}
		telemetry.RelayPublishedTotal.With(w.config.Name).Inc()
	}

	if err := w.config.Journal.AdvanceCursor(w.config.Name, rec.Seq); err != nil {
		log.Warn().Err(err).Str("sink", w.config.Name).Uint64("seq", rec.Seq).Msg("Failed to advance cursor, record may be redelivered")
	}
	return nil
}

// topic joins prefix, database and object with dots. Dots and spaces inside
// names become underscores so each name stays a single subject token.
func (w *Worker) topic(database, table string) string {
	parts := make([]string, 0, 3)
	if w.config.TopicPrefix != "" {
		parts = append(parts, w.config.TopicPrefix)
	}
	if database != "" {
		parts = append(parts, subjectToken(database))
	}
	parts = append(parts, subjectToken(table))
	return strings.Join(parts, ".")
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func subjectToken(s string) string {
	return subjectReplacer.Replace(s)
}

func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	for attempt := 1; ; attempt++ {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}
		telemetry.RelayFailuresTotal.With(w.config.Name).Inc()

		if attempt >= w.config.MaxRetries {
			return fmt.Errorf("exhausted %d retries for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("sink", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Publish failed, retrying")

		if !w.sleep(delay) {
			return errWorkerStopped
		}
		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep reports false when the worker was stopped while sleeping
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
