package analysis

import (
	"fmt"
	"strings"
)

const (
	DefaultRegion = "Asia"
	DefaultSector = "Tech"
)

// Exposure is the share of a portfolio held in one region and sector.
type Exposure struct {
	TargetRegion string  `json:"target_region"`
	TargetSector string  `json:"target_sector"`
	Exposure     float64 `json:"exposure"`
	Total        float64 `json:"total_allocation"`
	Matched      int     `json:"matched_positions"`
}

// RiskExposure sums allocations whose region and sector contain the targets,
// compared case-insensitively. The three slices describe the same positions
// and must have equal length.
func RiskExposure(allocations []float64, regions, sectors []string, targetRegion, targetSector string) (Exposure, error) {
	if len(allocations) != len(regions) || len(allocations) != len(sectors) {
		return Exposure{}, fmt.Errorf("allocations, regions and sectors differ in length (%d/%d/%d)", len(allocations), len(regions), len(sectors))
	}
	if strings.TrimSpace(targetRegion) == "" {
		targetRegion = DefaultRegion
	}
	if strings.TrimSpace(targetSector) == "" {
		targetSector = DefaultSector
	}
	out := Exposure{TargetRegion: targetRegion, TargetSector: targetSector}
	region, sector := strings.ToLower(targetRegion), strings.ToLower(targetSector)
	for i, alloc := range allocations {
		out.Total += alloc
		if strings.Contains(strings.ToLower(regions[i]), region) && strings.Contains(strings.ToLower(sectors[i]), sector) {
			out.Exposure += alloc
			out.Matched++
		}
	}
	return out, nil
}
