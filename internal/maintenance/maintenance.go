// Package maintenance runs the retention pruning task spec.md §4.11/§6
// describes: on an interval, delete rows older than each table's configured
// retention, optionally archiving a compressed JSON-lines export to S3
// first. Grounded on the teacher's internal/reliability R2 backup service
// (archive-then-delete flow, tar/gzip-style compression, structured
// logging) and its scheduler.Job shape for manual/periodic triggering,
// scaled down from whole-database backups to per-table row pruning.
package maintenance

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store is the slice of C11 the maintenance task reads and prunes.
type Store interface {
	ExportOlderThan(ctx context.Context, table string, retention time.Duration, asOf time.Time) ([]map[string]interface{}, error)
	PruneOlderThan(ctx context.Context, table string, retention time.Duration, asOf time.Time) (int64, error)
}

// Archiver uploads a compressed export before it's deleted. A nil Archiver
// (no bucket configured) means pruning just deletes, matching spec.md's
// base behavior.
type Archiver interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// TableRetention pairs a table name with how long its rows are kept.
type TableRetention struct {
	Table     string
	Retention time.Duration
}

// Config is the task's tuning.
type Config struct {
	Interval   time.Duration
	Tables     []TableRetention
	ArchivePrefix string // S3 key prefix; ignored when Archiver is nil
}

// Task runs the periodic prune-and-archive cycle.
type Task struct {
	cfg      Config
	store    Store
	archiver Archiver
	clock    func() time.Time
	log      zerolog.Logger
}

// New wires a Task. clockFn lets tests supply a deterministic "now"; archiver
// may be nil to disable archival.
func New(cfg Config, store Store, archiver Archiver, clockFn func() time.Time, log zerolog.Logger) *Task {
	return &Task{
		cfg: cfg, store: store, archiver: archiver, clock: clockFn,
		log: log.With().Str("component", "maintenance").Logger(),
	}
}

// Run ticks on cfg.Interval until ctx is cancelled, pruning every configured
// table each cycle. Errors are logged and the cycle continues to the next
// table/tick rather than halting the task.
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// RunOnce prunes every configured table once, archiving first when an
// Archiver is configured.
func (t *Task) RunOnce(ctx context.Context) {
	now := t.clock()
	for _, tr := range t.cfg.Tables {
		if t.archiver != nil {
			if err := t.archiveTable(ctx, tr, now); err != nil {
				t.log.Warn().Err(err).Str("table", tr.Table).Msg("archival failed, pruning skipped for this table this cycle")
				continue
			}
		}
		n, err := t.store.PruneOlderThan(ctx, tr.Table, tr.Retention, now)
		if err != nil {
			t.log.Warn().Err(err).Str("table", tr.Table).Msg("prune failed")
			continue
		}
		if n > 0 {
			t.log.Info().Str("table", tr.Table).Int64("rows_deleted", n).Msg("retention prune complete")
		}
	}
}

func (t *Task) archiveTable(ctx context.Context, tr TableRetention, now time.Time) error {
	rows, err := t.store.ExportOlderThan(ctx, tr.Table, tr.Retention, now)
	if err != nil {
		return fmt.Errorf("export %s: %w", tr.Table, err)
	}
	if len(rows) == 0 {
		return nil
	}

	body, err := compressJSONLines(rows)
	if err != nil {
		return fmt.Errorf("compress %s export: %w", tr.Table, err)
	}

	key := fmt.Sprintf("%s/%s/%s.jsonl.gz", t.cfg.ArchivePrefix, tr.Table, now.UTC().Format("20060102T150405Z"))
	if err := t.archiver.Upload(ctx, key, body); err != nil {
		return fmt.Errorf("upload %s archive: %w", tr.Table, err)
	}
	t.log.Info().Str("table", tr.Table).Str("key", key).Int("rows", len(rows)).Msg("archived rows before pruning")
	return nil
}

func compressJSONLines(rows []map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			_ = gw.Close()
			return nil, err
		}
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
