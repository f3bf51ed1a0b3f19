// Package export persists analysis results to PostgreSQL. Each run
// lands as one analysis_runs row plus per-run node and link tables, so
// fabric history stays queryable after the agent has moved on.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/snapshot"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/validation"
)

// Options configures the export sink
type Options struct {
	// DSN is a postgres connection string or URL
	DSN string
	// BatchSize caps rows per insert batch; clamped to [1, 5000]
	BatchSize int
	// MaxConns caps the pool size; zero keeps the pgx default
	MaxConns int
}

// Store writes analysis runs into PostgreSQL
type Store struct {
	pool    *pgxpool.Pool
	batch   int
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewStore connects, verifies reachability and migrates the schema
func NewStore(ctx context.Context, opts Options, logger logging.Logger, m *metrics.Registry) (*Store, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &Store{
		pool:    pool,
		batch:   validation.ClampInt(opts.BatchSize, 1, 5000),
		logger:  logger,
		metrics: m,
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

const (
	insertRunSQL = `
		INSERT INTO analysis_runs (id, created_at, source_digest, duration_ms,
			nodes, links, switches, adapters, gpus, fabric_managers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	insertNodeSQL = `
		INSERT INTO topology_nodes (run_id, guid, system_guid, kind, role,
			vendor_id, device_id, description, lid, lids, rack, plane_tracking)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	insertLinkSQL = `
		INSERT INTO topology_links (run_id, src_guid, src_port, dst_guid,
			dst_port, speed, disabled, plane)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
)

// Export writes one run inside a single transaction: the run row first,
// then node and link rows in batches. A failed run leaves no rows.
func (s *Store) Export(ctx context.Context, doc *snapshot.Document, runDuration time.Duration) error {
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback(ctx)

	counts := countKinds(doc)
	_, err = tx.Exec(ctx, insertRunSQL,
		doc.RunID,
		doc.CreatedAt,
		doc.SourceDigest,
		runDuration.Milliseconds(),
		len(doc.Nodes),
		len(doc.Links)/2,
		counts.switches,
		counts.adapters,
		counts.gpus,
		len(doc.FabricMgrs),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", doc.RunID, err)
	}

	if err := s.insertNodes(ctx, tx, doc); err != nil {
		return err
	}
	if err := s.insertLinks(ctx, tx, doc); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}

	s.metrics.RecordExport(len(doc.Nodes), len(doc.Links), time.Since(start))
	s.logger.Info("run exported",
		logging.RunID(doc.RunID),
		logging.Int("node_rows", len(doc.Nodes)),
		logging.Int("link_rows", len(doc.Links)),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Store) insertNodes(ctx context.Context, tx pgx.Tx, doc *snapshot.Document) error {
	for _, rows := range chunk(doc.Nodes, s.batch) {
		b := &pgx.Batch{}
		for _, n := range rows {
			lids, err := json.Marshal(n.LIDs)
			if err != nil {
				return fmt.Errorf("encode lids for %s: %w", n.GUID, err)
			}
			b.Queue(insertNodeSQL,
				doc.RunID, n.GUID, n.SystemGUID, n.Kind, n.Role,
				int64(n.VendorID), int64(n.DeviceID), n.Description,
				n.LID, lids, n.Rack, n.PlaneTrack)
		}
		if err := flushBatch(ctx, tx, b, len(rows)); err != nil {
			return fmt.Errorf("insert nodes: %w", err)
		}
	}
	return nil
}

func (s *Store) insertLinks(ctx context.Context, tx pgx.Tx, doc *snapshot.Document) error {
	for _, rows := range chunk(doc.Links, s.batch) {
		b := &pgx.Batch{}
		for _, l := range rows {
			b.Queue(insertLinkSQL,
				doc.RunID, l.SrcGUID, l.SrcPort, l.DstGUID,
				l.DstPort, l.Speed, l.Disabled, l.Plane)
		}
		if err := flushBatch(ctx, tx, b, len(rows)); err != nil {
			return fmt.Errorf("insert links: %w", err)
		}
	}
	return nil
}

func flushBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch, n int) error {
	br := tx.SendBatch(ctx, b)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

type kindCounts struct {
	switches int
	adapters int
	gpus     int
}

func countKinds(doc *snapshot.Document) kindCounts {
	var c kindCounts
	for _, n := range doc.Nodes {
		switch n.Kind {
		case "Switch":
			c.switches++
		case "Adapter":
			c.adapters++
		case "GPU":
			c.gpus++
		}
	}
	return c
}

func chunk[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]T
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}
