package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"freespace_cleaner/internal/config"
)

const gib = uint64(1024 * 1024 * 1024)

func TestTargetCount(t *testing.T) {
	p := PolicyFromConfig(config.Default())

	tests := []struct {
		name       string
		scan       *ScanResult
		totalBytes uint64
		want       int
	}{
		{"free entries win", &ScanResult{TotalEntries: 100000, FreeEntries: 10000}, 0, 8000},
		{"free entries ignore size", &ScanResult{TotalEntries: 100000, FreeEntries: 10000}, 3000 * gib, 8000},
		{"single free entry", &ScanResult{TotalEntries: 100, FreeEntries: 1}, 0, 1},
		{"total clamped to min", &ScanResult{TotalEntries: 100000}, 0, 50000},
		{"total in range", &ScanResult{TotalEntries: 300000}, 0, 60000},
		{"total clamped to max", &ScanResult{TotalEntries: 2000000}, 0, 200000},
		{"tier under 100GB", nil, 50 * gib, 50000},
		{"tier under 500GB", &ScanResult{}, 200 * gib, 100000},
		{"tier under 2TB", nil, 1024 * gib, 150000},
		{"tier 2TB and up", nil, 2048 * gib, 200000},
		{"unknown size", nil, 0, 75000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.TargetCount(tt.scan, tt.totalBytes))
		})
	}
}

func TestTargetCountWithoutOpenEndedTier(t *testing.T) {
	p := PolicyFromConfig(config.Default())
	p.Tiers = []config.SizeTier{{MaxBytes: 10 * gib, Target: 5}}
	assert.Equal(t, 5, p.TargetCount(nil, gib))
	assert.Equal(t, p.Fallback, p.TargetCount(nil, 20*gib))
}
