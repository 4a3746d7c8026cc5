package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/SteelMorgan/journal-ingest/internal/checkpoint"
	"github.com/SteelMorgan/journal-ingest/internal/config"
	"github.com/SteelMorgan/journal-ingest/internal/discovery"
	"github.com/SteelMorgan/journal-ingest/internal/dispatch"
	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/SteelMorgan/journal-ingest/internal/observability"
	"github.com/SteelMorgan/journal-ingest/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaultDir := config.Default().JournalDir
	if env := os.Getenv("JOURNAL_DIR"); env != "" {
		defaultDir = env
	}
	dir := flag.String("dir", defaultDir, "journal directory")
	kinds := flag.String("kinds", "", "comma-separated event kinds to print (default: all)")
	commander := flag.Bool("commander", true, "print the derived commander snapshot")
	logLevel := flag.String("log-level", "warn", "log level (written to stderr)")
	flag.Parse()

	observability.InitLogger(observability.LoggerConfig{Level: *logLevel, Pretty: true})

	filter, err := parseKinds(*kinds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journalscan: %v\n", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	done, err := scan(ctx, *dir, *commander, newPrinter(out, filter))
	if err != nil {
		fmt.Fprintf(os.Stderr, "journalscan: %v\n", err)
		return 1
	}

	log.Info().
		Int("files", len(done.Checkpoints)).
		Int("events", done.Events).
		Msg("Scan complete")
	return 0
}

// scan processes every journal in dir from the beginning. Checkpoints live in
// memory only, so every run starts over.
func scan(ctx context.Context, dir string, commander bool, sub dispatch.Subscriber) (*domain.Done, error) {
	files, err := discovery.ListJournals(dir)
	if err != nil {
		return nil, err
	}

	items := make([]worker.Item, 0, len(files))
	for _, f := range files {
		items = append(items, worker.Item{File: f})
	}

	disp := dispatch.New(checkpoint.NewStore(checkpoint.NewMemoryPersister()))
	disp.Subscribe(sub)

	return disp.Consume(ctx, worker.New().Start(ctx, worker.Batch{
		Items:     items,
		Commander: commander,
		History:   files,
	}))
}

func parseKinds(raw string) (map[domain.EventKind]bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	known := make(map[domain.EventKind]bool, len(domain.AllKinds))
	for _, k := range domain.AllKinds {
		known[k] = true
	}

	filter := make(map[domain.EventKind]bool)
	for _, part := range strings.Split(raw, ",") {
		k := domain.EventKind(strings.TrimSpace(part))
		if !known[k] {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
		filter[k] = true
	}
	return filter, nil
}

// printer writes events and snapshots as JSON lines. Progress is dropped.
type printer struct {
	enc    *json.Encoder
	filter map[domain.EventKind]bool
}

func newPrinter(w io.Writer, filter map[domain.EventKind]bool) *printer {
	return &printer{enc: json.NewEncoder(w), filter: filter}
}

func (p *printer) Deliver(_ context.Context, msg domain.Message) error {
	switch msg.Kind {
	case domain.MessageEvent:
		if p.filter != nil && !p.filter[msg.Event.Kind] {
			return nil
		}
		return p.enc.Encode(msg.Event)
	case domain.MessageSnapshot:
		return p.enc.Encode(msg.Snapshot)
	case domain.MessageError:
		log.Warn().Str("file", msg.Error.File).Msg(msg.Error.Message)
	}
	return nil
}
