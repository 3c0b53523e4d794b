package metadata

import (
	"math"

	"freespace_cleaner/internal/config"
)

// TargetPolicy sizes the churn. The numbers are empirical and all come from
// config so they can be tuned per deployment.
type TargetPolicy struct {
	FreeRatio  float64
	TotalRatio float64
	Min        int
	Max        int
	Fallback   int
	Tiers      []config.SizeTier
}

func PolicyFromConfig(cfg *config.Config) TargetPolicy {
	return TargetPolicy{
		FreeRatio:  cfg.Metadata.FreeEntryRatio,
		TotalRatio: cfg.Metadata.TotalEntryRatio,
		Min:        cfg.Metadata.MinTarget,
		Max:        cfg.Metadata.MaxTarget,
		Fallback:   cfg.Metadata.FallbackTarget,
		Tiers:      cfg.Metadata.SizeTiers,
	}
}

// TargetCount picks the number of filler files, in order of preference:
// a share of the free entries, a clamped share of all entries, the volume
// size tier, and finally the fixed fallback.
func (p TargetPolicy) TargetCount(scan *ScanResult, totalBytes uint64) int {
	if scan != nil && scan.FreeEntries > 0 {
		return atLeastOne(share(scan.FreeEntries, p.FreeRatio))
	}
	if scan != nil && scan.TotalEntries > 0 {
		n := share(scan.TotalEntries, p.TotalRatio)
		return min(p.Max, max(p.Min, n))
	}
	if totalBytes == 0 {
		return p.Fallback
	}
	for _, tier := range p.Tiers {
		if tier.MaxBytes == 0 || totalBytes < tier.MaxBytes {
			return tier.Target
		}
	}
	return p.Fallback
}

func share(n uint64, ratio float64) int {
	v := math.Floor(float64(n)*ratio + 1e-9)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
