package relay

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/cqnwatch/cfg"
	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/subscr"
	"github.com/rs/zerolog/log"
)

// Config configures a Relay
type Config struct {
	DataDir  string // journal lives in {DataDir}/journal
	ClientID uint64 // stamped on every record
	Sinks    []cfg.SinkConfiguration
}

// Relay journals received events and runs one worker per sink
type Relay struct {
	journal  *Journal
	clientID uint64
	workers  []*Worker
	running  atomic.Bool
	mu       sync.Mutex
}

// New opens the journal and creates a worker per configured sink
func New(config Config) (*Relay, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("relay data directory is required")
	}

	journal, err := OpenJournal(filepath.Join(config.DataDir, "journal"))
	if err != nil {
		return nil, err
	}

	r := &Relay{journal: journal, clientID: config.ClientID}
	for _, sc := range config.Sinks {
		if err := r.AddSink(sc); err != nil {
			r.closeSinks()
			journal.Close()
			return nil, fmt.Errorf("add sink %q: %w", sc.Name, err)
		}
	}

	log.Info().Int("sinks", len(r.workers)).Msg("Relay initialized")
	return r, nil
}

// AddSink builds the sink, transformer and filter named by config and
// attaches a worker for them. Sinks added while running start immediately.
func (r *Relay) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return err
	}
	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return err
	}
	filter, err := NewGlobFilter(config.FilterTables, config.FilterDatabases)
	if err != nil {
		snk.Close()
		return err
	}

	w, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Journal:         r.journal,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
	if r.running.Load() {
		w.Start()
	}

	log.Info().Str("sink", config.Name).Str("type", config.Type).Str("format", config.Format).Msg("Added relay sink")
	return nil
}

// Start starts every worker
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("relay already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	return nil
}

// Stop stops the workers, closes their sinks and the journal
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}
	for _, w := range r.workers {
		w.Stop()
	}
	r.closeSinks()
	if err := r.journal.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close relay journal")
	}
	log.Info().Msg("Relay stopped")
}

func (r *Relay) closeSinks() {
	for _, w := range r.workers {
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
		}
	}
}

// Append journals records for every sink
func (r *Relay) Append(recs []Record) error {
	if !r.running.Load() {
		return fmt.Errorf("relay not running")
	}
	return r.journal.Append(recs)
}

// OnChange is a change handler that relays every event it receives.
// Notification errors are logged and skipped.
func (r *Relay) OnChange(next subscr.ChangeHandler) subscr.ChangeHandler {
	return func(ev *event.ChangeEvent, err error) {
		if err == nil {
			if aerr := r.Append(FromChangeEvent(ev, r.clientID)); aerr != nil {
				log.Warn().Err(aerr).Str("event", ev.EventType().String()).Msg("Failed to relay change event")
			}
		}
		if next != nil {
			next(ev, err)
		}
	}
}

// OnQueue is the queue counterpart of OnChange
func (r *Relay) OnQueue(next subscr.QueueHandler) subscr.QueueHandler {
	return func(ev *event.QueueEvent, err error) {
		if err == nil {
			if aerr := r.Append([]Record{FromQueueEvent(ev, r.clientID)}); aerr != nil {
				log.Warn().Err(aerr).Str("queue", ev.QueueName()).Msg("Failed to relay queue event")
			}
		}
		if next != nil {
			next(ev, err)
		}
	}
}

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, ok := transformerFactories[format]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}

// SinkStatus reports how far one sink has published
type SinkStatus struct {
	Name    string `json:"name"`
	Cursor  uint64 `json:"cursor"`
	Pending uint64 `json:"pending"`
}

// Status lists every sink with its cursor and backlog
func (r *Relay) Status() []SinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := r.journal.LastSeq()
	out := make([]SinkStatus, 0, len(r.workers))
	for _, w := range r.workers {
		c := w.Cursor()
		out = append(out, SinkStatus{Name: w.config.Name, Cursor: c, Pending: last - min(c, last)})
	}
	return out
}
