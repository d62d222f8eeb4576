// Package bloom contains a Bloom filter used to quickly rule out the hostnames
// that aren't blocked by any domain rule.
package bloom

import (
	"math"

	"github.com/AdguardTeam/urlblock/internal/ufnet"
	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFalsePositiveRate is the target false positive rate used when the
// requested one is out of range.
const DefaultFalsePositiveRate = 0.001

// Filter is a Bloom filter over strings.  Add must only be called while the
// filter is being built, all other methods are safe for concurrent use after
// that.
type Filter struct {
	bf    *bloom.BloomFilter
	items uint
}

// New returns a filter sized for expectedItems strings with the target false
// positive rate fpRate.  expectedItems of zero is treated as one.  fpRate
// outside of (0, 1) is replaced with [DefaultFalsePositiveRate].
func New(expectedItems uint, fpRate float64) (f *Filter) {
	expectedItems = max(expectedItems, 1)
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = DefaultFalsePositiveRate
	}

	return &Filter{
		bf: bloom.NewWithEstimates(expectedItems, fpRate),
	}
}

// Add adds s to the filter.
func (f *Filter) Add(s string) {
	f.bf.AddString(s)
	f.items++
}

// MightContain returns false if s has definitely not been added.
func (f *Filter) MightContain(s string) (ok bool) {
	return f.bf.TestString(s)
}

// MightContainHost returns false if neither host nor any of its parent domains
// has been added.
func (f *Filter) MightContainHost(host string) (ok bool) {
	ufnet.ForEachSuffix(host, func(suffix string) (cont bool) {
		ok = f.bf.TestString(suffix)

		return !ok
	})

	return ok
}

// ItemCount returns the number of strings added.
func (f *Filter) ItemCount() (n uint) {
	return f.items
}

// Cap returns the size of the bit array.
func (f *Filter) Cap() (m uint) {
	return f.bf.Cap()
}

// HashCount returns the number of hash functions.
func (f *Filter) HashCount() (k uint) {
	return f.bf.K()
}

// FalsePositiveRate returns the estimated current false positive rate, which
// is (1 - e^(-kn/m))^k.
func (f *Filter) FalsePositiveRate() (p float64) {
	m, k, n := float64(f.Cap()), float64(f.HashCount()), float64(f.items)

	return math.Pow(1-math.Exp(-k*n/m), k)
}
