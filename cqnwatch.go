package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/maxpert/cqnwatch/admin"
	"github.com/maxpert/cqnwatch/cfg"
	"github.com/maxpert/cqnwatch/emulator"
	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/relay"
	_ "github.com/maxpert/cqnwatch/relay/sink"
	_ "github.com/maxpert/cqnwatch/relay/transformer"
	"github.com/maxpert/cqnwatch/subscr"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var errDeregistered = errors.New("subscription deregistered")

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging()
	telemetry.InitializeTelemetry()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("cqnwatch failed")
	}
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("client_id", cfg.Config.ClientID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ec := cfg.Config.Emulator
	opts := emulator.Options{
		Path:           ec.DatabasePath,
		DatabaseName:   ec.DatabaseName,
		Charset:        ec.Charset,
		DeliveryBuffer: ec.DeliveryBuffer,
	}
	if ec.SMTPAddress != "" {
		opts.Mailer = &emulator.SMTPMailer{Addr: ec.SMTPAddress, From: ec.SMTPFrom}
	}

	server, err := emulator.Open(ctx, opts)
	if err != nil {
		return fmt.Errorf("open notification server: %w", err)
	}
	defer server.Close()

	collector := telemetry.NewMetricsCollector(server, 5*time.Second)
	collector.Start()
	defer collector.Stop()

	var rl *relay.Relay
	if cfg.Config.Relay.Enabled {
		rl, err = relay.New(relay.Config{
			DataDir:  cfg.Config.Relay.DataDir,
			ClientID: cfg.Config.ClientID,
			Sinks:    cfg.Config.Relay.Sinks,
		})
		if err != nil {
			return fmt.Errorf("start relay: %w", err)
		}
		if err := rl.Start(); err != nil {
			return err
		}
		defer rl.Stop()
	}

	w := newWatcher(rl)
	form, err := buildForm(cfg.Config.Subscription, w.onChange, w.onQueue)
	if err != nil {
		return err
	}
	sub, err := form.Submit(server)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close subscription")
		}
	}()

	for _, table := range cfg.Config.Subscription.Tables {
		query, err := watchQuery(table)
		if err != nil {
			return err
		}
		id, err := sub.SetQuery(query)
		if err != nil {
			return fmt.Errorf("watch %s: %w", table, err)
		}
		log.Info().Str("table", table).Uint64("query_id", id).Msg("Watching table")
	}

	// statements typed on stdin run against the watched database
	go func() {
		err := readStatements(os.Stdin, func(stmt string) error {
			if _, err := server.Exec(ctx, stmt); err != nil {
				log.Warn().Err(err).Str("sql", stmt).Msg("Statement failed")
			}
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Msg("Stopped reading statements")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Config.Admin.Enabled {
		g.Go(func() error { return serveAdmin(gctx, server, rl) })
	}
	g.Go(func() error {
		select {
		case <-w.deregistered:
			return errDeregistered
		case <-gctx.Done():
			return nil
		}
	})

	log.Info().
		Str("database", server.DatabaseName()).
		Str("subscription", sub.Name()).
		Str("namespace", sub.Namespace().String()).
		Str("protocol", sub.Protocol().String()).
		Msg("cqnwatch is running")

	err = g.Wait()
	if errors.Is(err, errDeregistered) {
		log.Info().Msg("Subscription deregistered, exiting")
		return nil
	}
	return err
}

func serveAdmin(ctx context.Context, server admin.Server, rl *relay.Relay) error {
	var status admin.RelayStatus
	if rl != nil {
		status = rl
	}
	handler := admin.NewRouter(admin.NewAdminHandlers(server, status), cfg.Config.Admin.AuthToken)

	addr := net.JoinHostPort(cfg.Config.Admin.BindAddress, strconv.Itoa(cfg.Config.Admin.Port))
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Admin endpoints enabled")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// watcher logs notifications, forwards them to the relay and signals the
// first deregistration.
type watcher struct {
	relay        *relay.Relay
	deregistered chan struct{}
	once         sync.Once
}

func newWatcher(rl *relay.Relay) *watcher {
	return &watcher{relay: rl, deregistered: make(chan struct{})}
}

func (w *watcher) onChange(ev *event.ChangeEvent, err error) {
	if w.relay != nil {
		w.relay.OnChange(w.logChange)(ev, err)
		return
	}
	w.logChange(ev, err)
}

func (w *watcher) logChange(ev *event.ChangeEvent, err error) {
	if err != nil {
		log.Warn().Err(err).Msg("Change notification failed")
		return
	}

	log.Info().
		Str("event", ev.EventType().String()).
		Str("database", ev.Database()).
		Int("tables", len(ev.Tables())).
		Int("queries", len(ev.Queries())).
		Hex("txid", ev.TransactionID()).
		Msg("Change notification")
	log.Debug().Msg(ev.String())

	if ev.EventType() == event.Deregister {
		w.once.Do(func() { close(w.deregistered) })
	}
}

func (w *watcher) onQueue(ev *event.QueueEvent, err error) {
	if w.relay != nil {
		w.relay.OnQueue(w.logQueue)(ev, err)
		return
	}
	w.logQueue(ev, err)
}

func (w *watcher) logQueue(ev *event.QueueEvent, err error) {
	if err != nil {
		log.Warn().Err(err).Msg("Queue notification failed")
		return
	}

	log.Info().
		Str("event", ev.EventType().String()).
		Str("queue", ev.QueueName()).
		Str("consumer", ev.ConsumerName()).
		Msg("Queue notification")

	if ev.EventType() == event.QueueDeregister {
		w.once.Do(func() { close(w.deregistered) })
	}
}

// buildForm translates the [subscription] section into a form
func buildForm(sc cfg.SubscriptionConfiguration, onChange subscr.ChangeHandler, onQueue subscr.QueueHandler) (*subscr.Form, error) {
	var p subscr.Protocol
	queue := sc.Namespace == "aq"
	switch sc.Protocol {
	case "callback":
		if queue {
			p = subscr.QueueCallback(onQueue)
		} else {
			p = subscr.ChangeCallback(onChange)
		}
	case "mail":
		p = pick(queue, subscr.QueueMail, subscr.ChangeMail)(sc.Recipient)
	case "plsql":
		p = pick(queue, subscr.QueueStoredProcedure, subscr.ChangeStoredProcedure)(sc.Recipient)
	case "http":
		p = pick(queue, subscr.QueueHTTP, subscr.ChangeHTTP)(sc.Recipient)
	default:
		return nil, fmt.Errorf("invalid subscription protocol: %s", sc.Protocol)
	}

	var qos subscr.QoS
	for _, name := range sc.QoS {
		q, ok := subscr.ParseQoS(name)
		if !ok {
			return nil, fmt.Errorf("invalid qos flag: %s", name)
		}
		qos |= q
	}

	var ops event.OpCode
	for _, name := range sc.Operations {
		op, ok := event.ParseOpCode(name)
		if !ok {
			return nil, fmt.Errorf("invalid operation: %s", name)
		}
		ops |= op
	}

	form := subscr.NewForm(p).
		QoS(qos).
		Operations(ops).
		Timeout(time.Duration(sc.TimeoutSeconds) * time.Second).
		Port(sc.Port).
		IPAddress(sc.IPAddress).
		Name(sc.Name)

	if sc.Grouping.WindowSeconds > 0 {
		form.GroupingClass(subscr.GroupByTime(time.Duration(sc.Grouping.WindowSeconds) * time.Second))
		if strings.EqualFold(sc.Grouping.Type, "last") {
			form.GroupingType(subscr.GroupingLast)
		} else {
			form.GroupingType(subscr.GroupingSummary)
		}
	}
	return form, nil
}

func pick(queue bool, q, c func(string) subscr.Protocol) func(string) subscr.Protocol {
	if queue {
		return q
	}
	return c
}

// watchQuery is the query registered for a watched table
func watchQuery(table string) (string, error) {
	query, _, err := goqu.Dialect("sqlite3").From(table).ToSQL()
	if err != nil {
		return "", fmt.Errorf("build watch query for %s: %w", table, err)
	}
	return query, nil
}

// readStatements calls fn for every ';' terminated statement read from r.
// A trailing statement without ';' is run at EOF.
func readStatements(r io.Reader, fn func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	scanner.Split(splitStatements)

	for scanner.Scan() {
		stmt := strings.TrimSpace(scanner.Text())
		if stmt == "" {
			continue
		}
		if err := fn(stmt); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func splitStatements(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, ';'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
