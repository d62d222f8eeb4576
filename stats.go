package urlblock

import (
	"time"

	"github.com/AdguardTeam/urlblock/rules"
)

// SourceReport is the load result of a single filter list source.
type SourceReport struct {
	// Name is the name of the source.
	Name string `json:"name"`

	// URL is the URL of the source.
	URL string `json:"url"`

	// Parse are the parse counters of the list.  They are zero if the list
	// hasn't been fetched.
	Parse rules.ParseStats `json:"parse"`

	// Fetched is true if the list has been fetched.
	Fetched bool `json:"fetched"`
}

// Stats are the engine statistics.  The check counters are kept for the
// lifetime of the engine and are not reset on reload.
type Stats struct {
	// LoadedAt is the time of the last successful load.  It is zero if the
	// engine is not initialized.
	LoadedAt time.Time `json:"loaded_at"`

	// Sources are the reports of the last successful load.
	Sources []*SourceReport `json:"sources"`

	// Parse are the total parse counters of the last successful load.
	Parse rules.ParseStats `json:"parse"`

	// LoadTime is the duration of the last successful load.
	LoadTime time.Duration `json:"load_time"`

	// TotalFilters is the number of loaded rules.
	TotalFilters int `json:"total_filters"`

	// NetworkFilters is the number of loaded network rules, which are all
	// the loaded rules.
	NetworkFilters int `json:"network_filters"`

	// CosmeticFilters is always zero since cosmetic rules are not loaded.
	CosmeticFilters int `json:"cosmetic_filters"`

	// ExceptionFilters is the number of loaded exception rules.
	ExceptionFilters int `json:"exception_filters"`

	// TotalChecks is the number of ShouldBlock calls on an initialized
	// engine.
	TotalChecks uint64 `json:"total_checks"`

	// TotalBlocks is the number of checks that resulted in blocking.
	TotalBlocks uint64 `json:"total_blocks"`

	// AverageCheckTimeMs is the average duration of a check in milliseconds.
	AverageCheckTimeMs float64 `json:"average_check_time_ms"`

	// BloomItems is the number of domains in the Bloom filter.
	BloomItems uint `json:"bloom_items"`

	// BloomFalsePositiveRate is the estimated false positive rate of the
	// Bloom filter.
	BloomFalsePositiveRate float64 `json:"bloom_false_positive_rate"`
}

// Stats returns the current statistics.
func (e *Engine) Stats() (st Stats) {
	st = Stats{
		TotalChecks: e.totalChecks.Load(),
		TotalBlocks: e.totalBlocks.Load(),
	}

	if st.TotalChecks > 0 {
		total := time.Duration(e.checkTime.Load())
		st.AverageCheckTimeMs = total.Seconds() * 1000 / float64(st.TotalChecks)
	}

	s := e.snap.Load()
	if s == nil {
		return st
	}

	st.LoadedAt = s.loadedAt
	st.Sources = s.sources
	st.Parse = s.parse
	st.LoadTime = s.loadTime
	st.ExceptionFilters = s.exception.count()
	st.NetworkFilters = s.block.count() + st.ExceptionFilters
	st.TotalFilters = st.NetworkFilters
	st.BloomItems = s.bloom.ItemCount()
	st.BloomFalsePositiveRate = s.bloom.FalsePositiveRate()

	return st
}
