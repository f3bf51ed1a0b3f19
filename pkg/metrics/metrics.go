package metrics

import (
	"strconv"
	"time"
)

// RecordArtifactParse records one artifact pass
func (r *Registry) RecordArtifactParse(artifact string, lines, skipped int, duration time.Duration) {
	r.ParseLinesTotal.WithLabelValues(artifact).Add(float64(lines))
	if skipped > 0 {
		r.ParseSkippedTotal.WithLabelValues(artifact, "malformed").Add(float64(skipped))
	}
	r.ParseDuration.WithLabelValues(artifact).Observe(duration.Seconds())
}

// RecordParsedRecords counts accepted records of one kind
func (r *Registry) RecordParsedRecords(artifact, kind string, n int) {
	if n > 0 {
		r.ParseRecordsTotal.WithLabelValues(artifact, kind).Add(float64(n))
	}
}

// RecordSkipped counts skipped records with their reason
func (r *Registry) RecordSkipped(artifact, reason string, n int) {
	if n > 0 {
		r.ParseSkippedTotal.WithLabelValues(artifact, reason).Add(float64(n))
	}
}

// UpdateGraphCounts publishes registry population gauges
func (r *Registry) UpdateGraphCounts(switches, adapters, gpus, links int) {
	r.GraphNodes.WithLabelValues("switch").Set(float64(switches))
	r.GraphNodes.WithLabelValues("adapter").Set(float64(adapters))
	r.GraphNodes.WithLabelValues("gpu").Set(float64(gpus))
	r.GraphLinks.Set(float64(links))
}

// UpdateRoleCounts publishes the per-role switch gauges
func (r *Registry) UpdateRoleCounts(leaf, spine, core, nvlink, unknown int) {
	r.GraphRoles.WithLabelValues("leaf").Set(float64(leaf))
	r.GraphRoles.WithLabelValues("spine").Set(float64(spine))
	r.GraphRoles.WithLabelValues("core").Set(float64(core))
	r.GraphRoles.WithLabelValues("nvlink_sw").Set(float64(nvlink))
	r.GraphRoles.WithLabelValues("unknown").Set(float64(unknown))
}

// RecordInference records one inference stage
func (r *Registry) RecordInference(stage string, duration time.Duration) {
	r.InferenceDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordMaterialization records one table expansion
func (r *Registry) RecordMaterialization(nodeRows, edgeRows, failures int, duration time.Duration) {
	r.MaterializeDuration.Observe(duration.Seconds())
	r.MaterializeRows.WithLabelValues("nodes").Set(float64(nodeRows))
	r.MaterializeRows.WithLabelValues("edges").Set(float64(edgeRows))
	if failures > 0 {
		r.MaterializeFailures.Add(float64(failures))
	}
}

// RecordRun records one full analysis run
func (r *Registry) RecordRun(status string, duration time.Duration) {
	r.AgentRunsTotal.WithLabelValues(status).Inc()
	r.AgentRunDuration.Observe(duration.Seconds())
	r.AgentLastRunTimestamp.Set(float64(time.Now().Unix()))
}

// RecordExport records one relational export
func (r *Registry) RecordExport(nodeRows, edgeRows int, duration time.Duration) {
	r.ExportRowsTotal.WithLabelValues("nodes").Add(float64(nodeRows))
	r.ExportRowsTotal.WithLabelValues("edges").Add(float64(edgeRows))
	r.ExportDuration.Observe(duration.Seconds())
}

// RecordEventPublished counts one published topology event
func (r *Registry) RecordEventPublished(eventType string) {
	r.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordSnapshot counts snapshot traffic
func (r *Registry) RecordSnapshot(direction string, bytes int) {
	r.SnapshotBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordHTTPRequest records one served request
func (r *Registry) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	r.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}
