package transfer

import "github.com/rcrowley/go-metrics"

// Stats tracks transfer progress. The counters live in a go-metrics
// registry so they can be reported with the table counters.
type Stats struct {
	TotalBytes      metrics.Counter
	CompressedBytes metrics.Counter
	ChunksSent      metrics.Counter
	ChunksReceived  metrics.Counter
	Errors          metrics.Counter
}

func newStats(r metrics.Registry) *Stats {
	if r == nil {
		r = metrics.NewRegistry()
	}
	return &Stats{
		TotalBytes:      metrics.GetOrRegisterCounter("transfer.bytes", r),
		CompressedBytes: metrics.GetOrRegisterCounter("transfer.bytes.compressed", r),
		ChunksSent:      metrics.GetOrRegisterCounter("transfer.chunks.sent", r),
		ChunksReceived:  metrics.GetOrRegisterCounter("transfer.chunks.received", r),
		Errors:          metrics.GetOrRegisterCounter("transfer.errors", r),
	}
}

// CompressionRatio returns the compression ratio (original / compressed).
func (s *Stats) CompressionRatio() float64 {
	comp := s.CompressedBytes.Count()
	if comp == 0 {
		return 1.0
	}
	return float64(s.TotalBytes.Count()) / float64(comp)
}
