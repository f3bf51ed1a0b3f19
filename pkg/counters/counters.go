// Package counters loads per-port PM counter tables from diagnostic
// dumps and serves them to table materialization.
//
// The artifact is a comma-separated text section, one endpoint per row,
// preceded by a header row:
//
//	# anything before the header is ignored
//	guid,port,xmit_wait,xmit_data
//	0xb8599f0300aa01,1,18821,977216136
//	0xb8599f0300aa01,2,0,412009
//
// Counter semantics (what xmit_wait means, which thresholds matter)
// stay with the consumers; this package only carries values.
package counters

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// ArtifactPMCounters names the PM counter artifact in logs and metrics
const ArtifactPMCounters = "pm_counters"

var reHeader = regexp.MustCompile(`(?i)^\s*guid\s*,\s*port\s*,\s*xmit_wait\s*,\s*xmit_data\s*$`)

// Table is an immutable per-endpoint counter lookup. Safe for concurrent
// Lookup once loaded; materialization tasks share one instance.
type Table struct {
	samples map[topology.ConnKey]topology.CounterSample
	skipped int
}

var _ topology.CounterProvider = (*Table)(nil)

// Lookup returns the sample recorded for an endpoint. The guid must be
// canonical; materialization passes registry keys, which already are.
func (t *Table) Lookup(guid string, port int) (topology.CounterSample, bool) {
	s, ok := t.samples[topology.ConnKey{GUID: guid, Port: port}]
	return s, ok
}

// Len returns the number of loaded endpoint samples
func (t *Table) Len() int {
	return len(t.samples)
}

// Skipped returns the number of rows dropped during load
func (t *Table) Skipped() int {
	return t.skipped
}

// Loader parses PM counter artifacts
type Loader struct {
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewLoader creates a counter loader. A nil logger or registry falls
// back to the package defaults.
func NewLoader(logger logging.Logger, m *metrics.Registry) *Loader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	return &Loader{logger: logger, metrics: m}
}

// Load parses one PM counter artifact into a Table. Rows above the
// header and comment lines are ignored; malformed rows are skipped with
// a diagnostic. A missing header is a malformed artifact: without it the
// column order is guesswork.
func (l *Loader) Load(data []byte) (*Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, topology.NewError("load-counters").
			WithArtifact(ArtifactPMCounters).
			WithCause(topology.ErrArtifactMissing).
			Build()
	}

	start := time.Now()
	timer := logging.StartTimer(l.logger, "pm counters loaded", logging.Artifact(ArtifactPMCounters))

	t := &Table{samples: make(map[topology.ConnKey]topology.CounterSample)}
	headerSeen := false
	lineNo := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !headerSeen {
			if reHeader.MatchString(line) {
				headerSeen = true
			}
			continue
		}
		l.loadRow(t, line, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return nil, topology.NewError("load-counters").
			WithArtifact(ArtifactPMCounters).
			WithCause(err).
			Build()
	}
	if !headerSeen {
		return nil, topology.NewError("load-counters").
			WithArtifact(ArtifactPMCounters).
			WithCause(topology.ErrMalformedArtifact).
			Build()
	}

	timer.End()
	l.logger.Info("counter table ready",
		logging.Artifact(ArtifactPMCounters),
		logging.Count(len(t.samples)),
		logging.Int("skipped", t.skipped))
	l.metrics.RecordArtifactParse(ArtifactPMCounters, lineNo, t.skipped, time.Since(start))
	l.metrics.RecordParsedRecords(ArtifactPMCounters, "counter_sample", len(t.samples))
	return t, nil
}

// loadRow parses one data row. Later rows win on duplicate endpoints,
// matching registry semantics elsewhere.
func (l *Loader) loadRow(t *Table, line string, lineNo int) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		l.skipRow(t, lineNo, "field count")
		return
	}

	guid, ok := topology.CanonicalGUID(fields[0])
	if !ok {
		l.skipRow(t, lineNo, "bad guid")
		return
	}
	port, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil || port <= 0 {
		l.skipRow(t, lineNo, "bad port")
		return
	}
	wait, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		l.skipRow(t, lineNo, "bad xmit_wait")
		return
	}
	dataCtr, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		l.skipRow(t, lineNo, "bad xmit_data")
		return
	}

	t.samples[topology.ConnKey{GUID: guid, Port: port}] = topology.CounterSample{
		TransmitWait: wait,
		TransmitData: dataCtr,
	}
}

func (l *Loader) skipRow(t *Table, lineNo int, reason string) {
	t.skipped++
	l.logger.Warn("counter row skipped",
		logging.Artifact(ArtifactPMCounters),
		logging.Int("line", lineNo),
		logging.String("reason", reason))
}
