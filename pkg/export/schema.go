package export

import "context"

// migrate creates the result tables. Runs are append-only; node and
// link rows hang off their run and go away with it.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		source_digest TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		nodes INT NOT NULL,
		links INT NOT NULL,
		switches INT NOT NULL,
		adapters INT NOT NULL,
		gpus INT NOT NULL,
		fabric_managers INT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS topology_nodes (
		run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		system_guid TEXT NOT NULL,
		kind TEXT NOT NULL,
		role TEXT NOT NULL,
		vendor_id BIGINT NOT NULL,
		device_id BIGINT NOT NULL,
		description TEXT,
		lid INT NOT NULL,
		lids JSONB,
		rack INT,
		plane_tracking BOOLEAN NOT NULL,
		PRIMARY KEY (run_id, guid)
	);

	CREATE TABLE IF NOT EXISTS topology_links (
		run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
		src_guid TEXT NOT NULL,
		src_port INT NOT NULL,
		dst_guid TEXT NOT NULL,
		dst_port INT NOT NULL,
		speed TEXT,
		disabled BOOLEAN NOT NULL,
		plane INT NOT NULL,
		PRIMARY KEY (run_id, src_guid, src_port)
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_runs_digest ON analysis_runs(source_digest);
	CREATE INDEX IF NOT EXISTS idx_topology_nodes_role ON topology_nodes(run_id, role);
	CREATE INDEX IF NOT EXISTS idx_topology_links_dst ON topology_links(run_id, dst_guid);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}
