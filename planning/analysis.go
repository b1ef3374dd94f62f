package planning

import (
	"fmt"
	"strings"
	"time"
)

// ParallelismAnalysis partitions a plan's steps by schedulability.
type ParallelismAnalysis struct {
	// Parallelizable holds groups of step IDs that may run concurrently.
	Parallelizable [][]string `json:"parallelizable"`

	// Sequential holds step IDs that must run alone.
	Sequential []string `json:"sequential"`

	// EstimatedSpeedup is sequential time divided by the parallel schedule
	// estimate; 1.0 means no gain.
	EstimatedSpeedup float64 `json:"estimated_speedup"`
}

// ComplexityEstimate summarizes a plan's expected cost.
type ComplexityEstimate struct {
	TotalDuration time.Duration            `json:"total_duration"`
	PerStep       map[string]time.Duration `json:"per_step"`
	RiskLevel     string                   `json:"risk_level"` // low, medium, high
	Confidence    float64                  `json:"confidence"` // [0.1, 1.0]
}

// OptimizationSuggestion proposes one plan restructuring.
type OptimizationSuggestion struct {
	Type             string   `json:"type"` // parallelize, merge, cache, batch
	StepIDs          []string `json:"step_ids,omitempty"`
	Description      string   `json:"description"`
	PotentialSavings float64  `json:"potential_savings"` // fraction of total time
	Tradeoffs        string   `json:"tradeoffs,omitempty"`
}

type verbKind int

const (
	verbNeutral verbKind = iota
	verbRead
	verbWrite
	verbAnalyze
)

var readVerbs = []string{"read", "get", "fetch", "list", "query", "search", "load"}
var writeVerbs = []string{"write", "create", "update", "delete", "post", "put", "remove", "store"}

// classifyVerb inspects the step's tool binding or leading description word.
// Reads parallelize freely, writes serialize, analysis parallelizes only
// when the step says it can.
func classifyVerb(step *PlanStep) verbKind {
	name := step.ToolID
	if name == "" {
		fields := strings.Fields(step.Description)
		if len(fields) > 0 {
			name = fields[0]
		}
	}
	name = strings.ToLower(name)
	for _, v := range readVerbs {
		if strings.HasPrefix(name, v) {
			return verbRead
		}
	}
	for _, v := range writeVerbs {
		if strings.HasPrefix(name, v) {
			return verbWrite
		}
	}
	if strings.HasPrefix(name, "analyze") || strings.HasPrefix(name, "analyse") {
		return verbAnalyze
	}
	return verbNeutral
}

func stepDuration(s *PlanStep) time.Duration {
	if s.EstimatedDuration > 0 {
		return s.EstimatedDuration
	}
	return s.Complexity.NominalDuration()
}

// heavyResources reports whether the step's demands make co-scheduling
// unattractive.
func heavyResources(r ResourceRequirements) bool {
	high := 0
	for _, l := range []ResourceLevel{r.Memory, r.CPU, r.Network} {
		if l == ResourceHigh {
			high++
		}
	}
	return high >= 2
}

// stepLevels computes each step's topological depth.
func stepLevels(plan *Plan) map[string]int {
	memo := make(map[string]int, len(plan.Steps))
	var level func(id string) int
	level = func(id string) int {
		if l, ok := memo[id]; ok {
			return l
		}
		memo[id] = 0 // cycle guard
		s := plan.Step(id)
		if s == nil || len(s.Dependencies) == 0 {
			memo[id] = 0
			return 0
		}
		max := 0
		for _, dep := range s.Dependencies {
			if l := level(dep) + 1; l > max {
				max = l
			}
		}
		memo[id] = max
		return max
	}
	for _, s := range plan.Steps {
		level(s.ID)
	}
	return memo
}

func analyzeParallelism(plan *Plan) *ParallelismAnalysis {
	a := &ParallelismAnalysis{EstimatedSpeedup: 1.0}
	if plan == nil || len(plan.Steps) == 0 {
		return a
	}

	levels := stepLevels(plan)
	maxLevel := 0
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}

	var seqTime, parTime time.Duration
	for lv := 0; lv <= maxLevel; lv++ {
		var group []string
		var groupMax time.Duration
		for _, s := range plan.Steps {
			if levels[s.ID] != lv {
				continue
			}
			d := stepDuration(s)
			seqTime += d

			kind := classifyVerb(s)
			eligible := kind == verbRead ||
				(kind == verbAnalyze && s.CanRunInParallel) ||
				(kind == verbNeutral && s.CanRunInParallel)
			if kind == verbWrite || heavyResources(s.ResourceRequirements) {
				eligible = false
			}

			if eligible {
				group = append(group, s.ID)
				if d > groupMax {
					groupMax = d
				}
			} else {
				a.Sequential = append(a.Sequential, s.ID)
				parTime += d
			}
		}
		if len(group) >= 2 {
			a.Parallelizable = append(a.Parallelizable, group)
			parTime += groupMax
		} else if len(group) == 1 {
			a.Sequential = append(a.Sequential, group[0])
			parTime += groupMax
		}
	}

	if parTime > 0 {
		a.EstimatedSpeedup = float64(seqTime) / float64(parTime)
	}
	return a
}

func estimateComplexity(plan *Plan, planContext map[string]interface{}) *ComplexityEstimate {
	est := &ComplexityEstimate{
		PerStep:    make(map[string]time.Duration),
		RiskLevel:  "low",
		Confidence: 0.9,
	}
	if plan == nil || len(plan.Steps) == 0 {
		est.Confidence = 0.1
		return est
	}

	multiplier := 1.0
	if planContext != nil {
		if env, _ := planContext["environment"].(string); env == "production" {
			multiplier *= 1.2
		}
		if vol, _ := planContext["data_volume"].(string); vol == "large" {
			multiplier *= 1.5
		}
	}

	var total time.Duration
	criticalCount := 0
	highCount := 0
	unknownResources := 0
	for _, s := range plan.Steps {
		d := time.Duration(float64(stepDuration(s)) * multiplier)
		est.PerStep[s.ID] = d
		total += d
		if s.Critical {
			criticalCount++
		}
		if s.Complexity == ComplexityHigh {
			highCount++
		}
		if s.ResourceRequirements == (ResourceRequirements{}) {
			unknownResources++
		}
	}
	est.TotalDuration = total

	switch {
	case criticalCount >= 2 && highCount >= 2:
		est.RiskLevel = "high"
	case criticalCount >= 1 || highCount >= 1:
		est.RiskLevel = "medium"
	}

	// Confidence shrinks with plan size and unknown requirements, grows
	// when historical data backs the estimate.
	if extra := len(plan.Steps) - 5; extra > 0 {
		est.Confidence -= 0.05 * float64(extra)
	}
	if unknownResources == len(plan.Steps) {
		est.Confidence -= 0.2
	}
	if planContext != nil {
		if hist, _ := planContext["historical_data"].(bool); hist {
			est.Confidence += 0.1
		}
	}
	if est.Confidence > 1.0 {
		est.Confidence = 1.0
	}
	if est.Confidence < 0.1 {
		est.Confidence = 0.1
	}
	return est
}

func suggestOptimizations(plan *Plan) []OptimizationSuggestion {
	if plan == nil || len(plan.Steps) == 0 {
		return nil
	}

	var total time.Duration
	for _, s := range plan.Steps {
		total += stepDuration(s)
	}
	if total == 0 {
		total = time.Second
	}

	var out []OptimizationSuggestion

	// Independent clusters that could run concurrently.
	par := analyzeParallelism(plan)
	for _, group := range par.Parallelizable {
		var groupDur, groupMax time.Duration
		for _, id := range group {
			d := stepDuration(plan.Step(id))
			groupDur += d
			if d > groupMax {
				groupMax = d
			}
		}
		out = append(out, OptimizationSuggestion{
			Type:             "parallelize",
			StepIDs:          group,
			Description:      fmt.Sprintf("Run %d independent steps concurrently", len(group)),
			PotentialSavings: float64(groupDur-groupMax) / float64(total),
			Tradeoffs:        "higher peak resource usage",
		})
	}

	// Duplicate descriptions suggest merged work.
	seen := make(map[string]string)
	for _, s := range plan.Steps {
		key := strings.ToLower(strings.TrimSpace(s.Description))
		if first, dup := seen[key]; dup {
			out = append(out, OptimizationSuggestion{
				Type:             "merge",
				StepIDs:          []string{first, s.ID},
				Description:      "Merge steps with identical descriptions",
				PotentialSavings: float64(stepDuration(s)) / float64(total),
				Tradeoffs:        "merged step becomes a single point of failure",
			})
		} else {
			seen[key] = s.ID
		}
	}

	// Expensive steps are caching candidates.
	for _, s := range plan.Steps {
		if d := stepDuration(s); d > 5*time.Second {
			out = append(out, OptimizationSuggestion{
				Type:             "cache",
				StepIDs:          []string{s.ID},
				Description:      fmt.Sprintf("Cache the result of %s (%s estimated)", s.ID, d),
				PotentialSavings: 0.3 * float64(d) / float64(total),
				Tradeoffs:        "staleness risk on repeated runs",
			})
		}
	}

	// Very large plans benefit from batching.
	if len(plan.Steps) > 10 {
		out = append(out, OptimizationSuggestion{
			Type:             "batch",
			Description:      fmt.Sprintf("Batch %d steps into fewer tool invocations", len(plan.Steps)),
			PotentialSavings: 0.1,
			Tradeoffs:        "coarser failure granularity",
		})
	}
	return out
}
