// Package analysis computes the post-hoc before/after comparison for an
// execution: degradation, error-rate delta, availability proxy, recovery
// time and blast radius.
package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/breakpoint-labs/havoc/pkg/types"
)

// ComputeImpact derives the impact analysis from the before/after snapshots
// and the execution's wall-clock window
func ComputeImpact(before, after types.MetricsSnapshot, startedAt, endedAt time.Time, blastRadius []string) types.ImpactAnalysis {
	impact := types.ImpactAnalysis{
		ErrorRateIncrease: after.ErrorRate - before.ErrorRate,
		RecoveryTime:      endedAt.Sub(startedAt),
		BlastRadius:       blastRadius,
	}

	beforeAvg := before.AvgResponseTime()
	afterAvg := after.AvgResponseTime()
	if beforeAvg > 0 {
		impact.PerformanceDegradation = (afterAvg - beforeAvg) / beforeAvg * 100
	}

	// deliberately simple availability proxy, not a measured figure
	impact.AvailabilityImpact = after.ErrorRate * 10
	if impact.AvailabilityImpact > 100 {
		impact.AvailabilityImpact = 100
	}

	return impact
}

// defaultBlastRadius maps each chaos category to the components it is
// assumed to expose when the experiment carries no explicit target list
var defaultBlastRadius = map[types.ChaosType][]string{
	types.NetworkLatency:    {"network", "downstream-services"},
	types.CPUStress:         {"compute", "co-located-workloads"},
	types.MemoryStress:      {"compute", "co-located-workloads"},
	types.DatabaseFailure:   {"database", "persistence-layer", "read-replicas"},
	types.DependencyChaos:   {"upstream-dependency", "circuit-breakers"},
	types.DiskIOStress:      {"storage", "write-path"},
	types.PodTermination:    {"pod", "service-endpoints"},
	types.ServiceDisruption: {"service", "consumers"},
}

// BlastRadius derives the exposed component list for the experiment. A
// comma-separated metadata["targets"] wins; otherwise the per-type defaults
// plus the experiment's own target apply.
func BlastRadius(exp types.Experiment) []string {
	if targets := exp.Metadata["targets"]; targets != "" {
		var out []string
		for _, t := range strings.Split(targets, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
		return out
	}

	out := []string{exp.Target}
	return append(out, defaultBlastRadius[exp.Type]...)
}

// DeriveLessons turns the computed impact into the operator-facing
// takeaways recorded with the execution
func DeriveLessons(impact types.ImpactAnalysis, exp types.Experiment) []string {
	var lessons []string

	switch {
	case impact.PerformanceDegradation > 50:
		lessons = append(lessons, fmt.Sprintf("severe response-time degradation (%.1f%%) under %s; consider capacity headroom or load shedding", impact.PerformanceDegradation, exp.Type))
	case impact.PerformanceDegradation > 10:
		lessons = append(lessons, fmt.Sprintf("noticeable response-time degradation (%.1f%%) under %s", impact.PerformanceDegradation, exp.Type))
	case impact.PerformanceDegradation <= 0:
		lessons = append(lessons, fmt.Sprintf("target '%s' absorbed %s with no measurable slowdown", exp.Target, exp.Type))
	}

	if impact.ErrorRateIncrease > 5 {
		lessons = append(lessons, fmt.Sprintf("error rate rose by %.1f points during the fault; retry/fallback paths deserve review", impact.ErrorRateIncrease))
	}

	if impact.AvailabilityImpact >= 50 {
		lessons = append(lessons, "availability proxy crossed 50%; the blast radius is wider than the experiment assumed")
	}

	if len(impact.BlastRadius) > 3 {
		lessons = append(lessons, fmt.Sprintf("%d components in the blast radius; consider a narrower target for the next run", len(impact.BlastRadius)))
	}

	return lessons
}
