// Package analyze drives one full diagnostic pass: pull and discover
// artifacts, parse the dump, run inference, materialize tables, and
// feed the optional sinks. Both the one-shot command and the watching
// agent run the same pipeline; the agent just runs it repeatedly.
package analyze

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/config"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/counters"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/discover"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/export"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/parse"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/snapshot"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/stream"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// Pipeline owns the sinks shared across runs. Construct once, Run per
// analysis, Close when done.
type Pipeline struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Registry

	snapshots *snapshot.Store
	exporter  *export.Store
	publisher *stream.Publisher
	s3        *discover.S3Source

	// Progress, when set, is handed to the dump parser for per-stage
	// completion ticks.
	Progress parse.ProgressFunc
}

// Result reports one completed run
type Result struct {
	RunID        string
	SourceDigest string
	// FromCache is true when the graph was restored from a snapshot
	// instead of parsed, which skips inference as well.
	FromCache bool

	Graph *topology.Graph
	Nodes *topology.NodeTable
	Edges *topology.EdgeTable

	// Inference reports; nil on the cache path
	Roles  *topology.RoleResult
	Planes *topology.PlaneResult
	Racks  *topology.RackResult

	// Unreachable lists nodes with no enabled path from the master SM.
	// Empty on healthy fabrics, nil when no fabric manager is known.
	Unreachable []string

	Duration time.Duration
}

// New builds the pipeline and connects every configured sink. A sink
// whose configuration is empty stays disabled; a configured sink that
// cannot be reached fails construction, so a misconfigured agent dies
// at startup instead of silently dropping output for days.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, m *metrics.Registry) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}

	p := &Pipeline{cfg: cfg, logger: logger, metrics: m}

	var err error
	if cfg.Snapshot.Dir != "" {
		if p.snapshots, err = snapshot.NewStore(cfg.Snapshot.Dir, cfg.Snapshot.Retain, logger, m); err != nil {
			p.Close()
			return nil, err
		}
	}
	if cfg.Export.PostgresDSN != "" {
		opts := export.Options{
			DSN:       cfg.Export.PostgresDSN,
			BatchSize: cfg.Export.BatchSize,
			MaxConns:  cfg.Export.MaxConns,
		}
		if p.exporter, err = export.NewStore(ctx, opts, logger, m); err != nil {
			p.Close()
			return nil, err
		}
	}
	if cfg.Stream.Bind != "" {
		if p.publisher, err = stream.NewPublisher(cfg.Stream.Bind, logger, m); err != nil {
			p.Close()
			return nil, err
		}
	}
	if cfg.Input.S3.Bucket != "" {
		opts := discover.S3Options{
			Bucket:   cfg.Input.S3.Bucket,
			Prefix:   cfg.Input.S3.Prefix,
			Region:   cfg.Input.S3.Region,
			Endpoint: cfg.Input.S3.Endpoint,
		}
		if p.s3, err = discover.NewS3Source(ctx, opts, logger); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Close releases sink connections. Safe on a partially built pipeline.
func (p *Pipeline) Close() {
	if p.exporter != nil {
		p.exporter.Close()
	}
	if p.publisher != nil {
		_ = p.publisher.Close()
	}
}

// Run executes one analysis and reports it to the run metrics
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := p.run(ctx, start)

	status := "ok"
	if err != nil {
		status = "failed"
	}
	p.metrics.RecordRun(status, time.Since(start))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, start time.Time) (*Result, error) {
	runID := uuid.New().String()
	log := p.logger.With(logging.RunID(runID))

	if p.s3 != nil {
		n, err := p.s3.Pull(ctx, p.cfg.Input.Dir)
		if err != nil {
			return nil, err
		}
		log.Info("artifacts pulled from bucket", logging.Count(n))
	}

	set, err := discover.NewFinder(log).Discover(discover.Request{
		Dir:          p.cfg.Input.Dir,
		NetDumpGlob:  p.cfg.Input.NetDumpGlob,
		FMLogGlob:    p.cfg.Input.FMLogGlob,
		CountersGlob: p.cfg.Input.CountersGlob,
	})
	if err != nil {
		return nil, err
	}

	netDump, err := discover.ReadArtifact(set.NetDump.Path)
	if err != nil {
		return nil, err
	}
	var fmLog []byte
	if set.FMLog != nil {
		if fmLog, err = discover.ReadArtifact(set.FMLog.Path); err != nil {
			return nil, err
		}
	}

	// the digest covers exactly the inputs that shape the graph; the
	// counter artifact only decorates materialized tables
	digest := snapshot.Digest(netDump, fmLog)

	if p.publisher != nil {
		if err := p.publisher.RunStarted(runID, digest); err != nil {
			log.Warn("run event not published", logging.Error(err))
		}
	}

	b, err := p.buildGraph(ctx, log, runID, digest, netDump, fmLog)
	if err != nil {
		return nil, err
	}
	g, doc := b.graph, b.doc

	stats := g.Stats()
	p.metrics.UpdateGraphCounts(stats.Switches, stats.Adapters, stats.GPUs, stats.Links)
	p.updateRoleGauges(g)

	var prev *snapshot.Document
	if !b.fromCache && p.snapshots != nil {
		prev, _, _ = p.snapshots.Latest()
		if _, err := p.snapshots.Write(doc); err != nil {
			log.Warn("snapshot not written", logging.Error(err))
		}
	}

	provider := p.loadCounters(log, set)

	matStart := time.Now()
	nodeTable, edgeTable, err := g.Tables(provider)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordMaterialization(
		len(nodeTable.Rows), len(edgeTable.Rows), len(edgeTable.Failures),
		time.Since(matStart))

	dark := p.sweepReachability(log, g, b.fm)

	if p.publisher != nil {
		if err := p.publisher.TableSummaries(doc); err != nil {
			log.Warn("table events not published", logging.Error(err))
		}
		if prev != nil {
			if _, err := p.publisher.RoleChanges(prev, doc); err != nil {
				log.Warn("role events not published", logging.Error(err))
			}
		}
	}
	if p.exporter != nil {
		if err := p.exporter.Export(ctx, doc, time.Since(start)); err != nil {
			log.Error("relational export failed", logging.Error(err))
		}
	}

	res := &Result{
		RunID:        runID,
		SourceDigest: digest,
		FromCache:    b.fromCache,
		Graph:        g,
		Nodes:        nodeTable,
		Edges:        edgeTable,
		Unreachable:  dark,
		Duration:     time.Since(start),
	}
	if b.infer != nil {
		res.Roles = b.infer.roles
		res.Planes = b.infer.planes
		res.Racks = b.infer.racks
	}

	log.Info("analysis complete",
		logging.Bool("from_cache", b.fromCache),
		logging.Int("nodes", stats.Nodes),
		logging.Int("links", stats.Links),
		logging.Int("node_rows", len(nodeTable.Rows)),
		logging.Int("edge_rows", len(edgeTable.Rows)),
		logging.Latency(res.Duration))
	return res, nil
}

// inferenceReports bundles the per-stage results of one fresh build
type inferenceReports struct {
	roles  *topology.RoleResult
	planes *topology.PlaneResult
	racks  *topology.RackResult
}

// build is what one graph construction hands back to the run
type build struct {
	graph *topology.Graph
	doc   *snapshot.Document
	// fm and infer stay nil on the cache path
	fm        *parse.FMResult
	infer     *inferenceReports
	fromCache bool
}

// buildGraph returns the run's graph and its snapshot document, either
// restored from the cache or parsed and inferred from scratch.
func (p *Pipeline) buildGraph(
	ctx context.Context,
	log logging.Logger,
	runID, digest string,
	netDump, fmLog []byte,
) (*build, error) {
	if p.snapshots != nil {
		cached, path, err := p.snapshots.Lookup(digest)
		switch {
		case err == nil:
			g, rerr := cached.Restore(p.cfg.TopologyConfig(), log)
			if rerr == nil {
				log.Info("graph restored from snapshot", logging.Path(path))
				// the document keeps its topology but the run row and
				// events belong to this run
				doc := *cached
				doc.RunID = runID
				doc.CreatedAt = time.Now().UTC()
				return &build{graph: g, doc: &doc, fromCache: true}, nil
			}
			log.Warn("snapshot unusable, rebuilding", logging.Path(path), logging.Error(rerr))
		case !errors.Is(err, snapshot.ErrNoSnapshot):
			log.Warn("snapshot lookup failed", logging.Error(err))
		}
	}

	g := topology.NewGraph(p.cfg.TopologyConfig(), log)
	parser := parse.NewNetDumpParser(g, log, p.metrics)
	parser.GPUPattern = p.cfg.GPURegexp()
	parser.Progress = p.Progress

	if _, err := parser.LoadInventory(netDump); err != nil {
		return nil, err
	}

	var fm *parse.FMResult
	if len(fmLog) > 0 {
		res, err := parse.ParseFMLog(fmLog, g, log)
		if err != nil {
			log.Warn("fm log unusable", logging.Error(err))
		} else {
			fm = res
		}
	}

	if _, err := parser.LoadAdjacency(netDump); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infer := &inferenceReports{}
	infer.roles = topology.InferRoles(g)

	planes, err := topology.InferPlanes(g)
	if err != nil {
		return nil, err
	}
	infer.planes = planes
	infer.racks = topology.InferRacks(g)

	return &build{
		graph: g,
		doc:   snapshot.Capture(g, runID, digest),
		fm:    fm,
		infer: infer,
	}, nil
}

// loadCounters returns the counter provider for materialization, nil
// when the artifact is absent or unusable. A bad counter file narrows
// the run instead of failing it.
func (p *Pipeline) loadCounters(log logging.Logger, set *discover.Set) topology.CounterProvider {
	if set.Counters == nil {
		return nil
	}
	data, err := discover.ReadArtifact(set.Counters.Path)
	if err != nil {
		log.Warn("counter artifact unreadable", logging.Path(set.Counters.Path), logging.Error(err))
		return nil
	}
	table, err := counters.NewLoader(log, p.metrics).Load(data)
	if err != nil {
		log.Warn("counter artifact unusable", logging.Path(set.Counters.Path), logging.Error(err))
		return nil
	}
	return table
}

// sweepReachability reports the dark side of the fabric as seen from
// the subnet manager. Preference order: the master identity from the FM
// log, else the first known fabric manager.
func (p *Pipeline) sweepReachability(log logging.Logger, g *topology.Graph, fm *parse.FMResult) []string {
	origin := ""
	if fm != nil && len(fm.Masters) > 0 {
		origin = fm.Masters[0]
	} else if fms := g.FabricManagers(); len(fms) > 0 {
		origin = fms[0].GUID
	}
	if origin == "" {
		return nil
	}

	dark, err := topology.UnreachableFrom(g, origin)
	if err != nil {
		log.Warn("reachability sweep failed", logging.GUID(origin), logging.Error(err))
		return nil
	}
	if len(dark) > 0 {
		log.Warn("nodes unreachable from the subnet manager",
			logging.GUID(origin),
			logging.Count(len(dark)))
	}
	return dark
}

func (p *Pipeline) updateRoleGauges(g *topology.Graph) {
	var leaf, spine, core, nvlink, unknown int
	for _, n := range g.Nodes() {
		switch n.Role {
		case topology.RoleLeaf:
			leaf++
		case topology.RoleSpine:
			spine++
		case topology.RoleCore:
			core++
		case topology.RoleNVLinkSW:
			nvlink++
		case topology.RoleUnknown:
			unknown++
		}
	}
	p.metrics.UpdateRoleCounts(leaf, spine, core, nvlink, unknown)
}
