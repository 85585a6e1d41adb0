package cache

// Metrics receives cache events. A nil Metrics in Config means no-op.
type Metrics interface {
	RecordLookup(cache string, hit bool)
	RecordCheck(cache, outcome string)
	RecordUpcall(cache string, queued bool)
	SetEntries(cache string, n int)
	RecordPurge(cache string)
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(string, bool)  {}
func (noopMetrics) RecordCheck(string, string) {}
func (noopMetrics) RecordUpcall(string, bool)  {}
func (noopMetrics) SetEntries(string, int)     {}
func (noopMetrics) RecordPurge(string)         {}
