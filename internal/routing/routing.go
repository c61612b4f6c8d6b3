// Package routing implements capability-based scoring and ranking (spec
// §4.7). Scoring is a new weighted-component computation — nothing in
// the teacher does account routing — grounded on the teacher's
// internal/worker.Pool for the "score then rank, stable sort" shape and
// on the spec's own component table for the arithmetic.
package routing

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Capability is the subset of store.Capability routing needs, passed in
// by the caller so this package has no store dependency.
type Capability struct {
	Name              string
	Skills            []string
	Provider          string
	ProviderStrengths []string
	TotalAccepted     int
	TotalDelivered    int
	AvgDeliveryMs     float64
	TrustScore        *float64
	LastActiveAt      time.Time
	WIP               int
	OpenTasks         int
	RecentThroughput  int
}

// Component is one scored dimension with a human-readable reason.
type Component struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Score is the full breakdown for one account.
type Score struct {
	Account    string      `json:"account"`
	Total      int         `json:"total"`
	Components []Component `json:"components"`
}

// Options configures rankAccounts.
type Options struct {
	ExcludeAccounts []string
	Now             func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func excluded(name string, list []string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// ScoreCapability computes the weighted-component score for cap against
// requiredSkills, per the table in spec §4.7.
func ScoreCapability(cap Capability, requiredSkills []string, now time.Time) Score {
	components := []Component{
		skillMatch(cap, requiredSkills),
		providerFit(cap, requiredSkills),
		successRate(cap),
		speed(cap),
		trust(cap),
		recency(cap, now),
		workload(cap),
	}

	total := 0.0
	for _, c := range components {
		total += c.Score
	}
	if total < 0 {
		total = 0
	}
	return Score{Account: cap.Name, Total: int(math.Round(total)), Components: components}
}

func matchedSkills(cap Capability, required []string) int {
	have := make(map[string]bool, len(cap.Skills))
	for _, s := range cap.Skills {
		have[s] = true
	}
	n := 0
	for _, r := range required {
		if have[r] {
			n++
		}
	}
	return n
}

func skillMatch(cap Capability, required []string) Component {
	if len(required) == 0 {
		return Component{Name: "skillMatch", Score: 30, Reason: "no skills required"}
	}
	matched := matchedSkills(cap, required)
	score := math.Ceil(float64(matched) / float64(len(required)) * 30)
	return Component{Name: "skillMatch", Score: score, Reason: fmt.Sprintf("%d/%d required skills matched", matched, len(required))}
}

func providerFit(cap Capability, required []string) Component {
	if cap.Provider == "" || len(required) == 0 {
		return Component{Name: "providerFit", Score: 10, Reason: "provider unknown or no skills required"}
	}
	strengths := make(map[string]bool, len(cap.ProviderStrengths))
	for _, s := range cap.ProviderStrengths {
		strengths[s] = true
	}
	n := 0
	for _, r := range required {
		if strengths[r] {
			n++
		}
	}
	score := float64(n) / float64(len(required)) * 20
	return Component{Name: "providerFit", Score: score, Reason: fmt.Sprintf("%d/%d required skills match %s's strengths", n, len(required), cap.Provider)}
}

func successRate(cap Capability) Component {
	if cap.TotalDelivered == 0 {
		return Component{Name: "successRate", Score: 10, Reason: "no delivery history"}
	}
	rate := float64(cap.TotalAccepted) / float64(cap.TotalDelivered)
	return Component{Name: "successRate", Score: rate * 20, Reason: fmt.Sprintf("%d/%d accepted", cap.TotalAccepted, cap.TotalDelivered)}
}

func speed(cap Capability) Component {
	if cap.TotalDelivered == 0 {
		return Component{Name: "speed", Score: 8, Reason: "no delivery history"}
	}
	avgMin := cap.AvgDeliveryMs / 60000
	switch {
	case avgMin < 5:
		return Component{Name: "speed", Score: 15, Reason: "avg delivery under 5 min"}
	case avgMin < 15:
		return Component{Name: "speed", Score: 12, Reason: "avg delivery under 15 min"}
	case avgMin < 30:
		return Component{Name: "speed", Score: 8, Reason: "avg delivery under 30 min"}
	default:
		return Component{Name: "speed", Score: 3, Reason: "avg delivery 30 min or more"}
	}
}

func trust(cap Capability) Component {
	if cap.TrustScore == nil {
		return Component{Name: "trust", Score: 5, Reason: "no trust score on record"}
	}
	return Component{Name: "trust", Score: *cap.TrustScore / 10, Reason: fmt.Sprintf("trust score %.0f", *cap.TrustScore)}
}

func recency(cap Capability, now time.Time) Component {
	if cap.LastActiveAt.IsZero() {
		return Component{Name: "recency", Score: 1, Reason: "no recent activity on record"}
	}
	elapsed := now.Sub(cap.LastActiveAt)
	switch {
	case elapsed <= 10*time.Minute:
		return Component{Name: "recency", Score: 5, Reason: "active within 10 min"}
	case elapsed <= 30*time.Minute:
		return Component{Name: "recency", Score: 4, Reason: "active within 30 min"}
	case elapsed <= time.Hour:
		return Component{Name: "recency", Score: 2, Reason: "active within 60 min"}
	default:
		return Component{Name: "recency", Score: 1, Reason: "inactive over 60 min"}
	}
}

func workload(cap Capability) Component {
	wipPenalty := math.Max(-15, float64(cap.WIP)*-5)
	openPenalty := math.Max(-10, float64(cap.OpenTasks)*-2)
	throughputBonus := math.Min(15, float64(cap.RecentThroughput)*5)
	score := wipPenalty + openPenalty + throughputBonus
	return Component{
		Name:   "workload",
		Score:  score,
		Reason: fmt.Sprintf("wip=%d open=%d recentThroughput=%d", cap.WIP, cap.OpenTasks, cap.RecentThroughput),
	}
}

// RankAccounts scores every capability not in opts.ExcludeAccounts against
// requiredSkills and returns them sorted descending by total score.
func RankAccounts(caps []Capability, requiredSkills []string, opts Options) []Score {
	now := opts.now()
	out := make([]Score, 0, len(caps))
	for _, c := range caps {
		if excluded(c.Name, opts.ExcludeAccounts) {
			continue
		}
		out = append(out, ScoreCapability(c, requiredSkills, now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}
