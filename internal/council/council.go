// Package council implements the three-stage multi-reviewer council
// (spec §4.14): collect, anonymized peer review, and chair synthesis.
// Nothing in the teacher fans calls out to multiple LLM accounts; this
// is built directly from the spec's own stage description, reusing only
// the lenient-fenced-JSON parsing idiom the daemon's wire layer already
// established for tolerating malformed input without aborting a batch.
package council

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Verdict is a council or chair decision.
type Verdict string

const (
	VerdictAccept           Verdict = "ACCEPT"
	VerdictReject           Verdict = "REJECT"
	VerdictAcceptWithNotes  Verdict = "ACCEPT_WITH_NOTES"
)

func normalizeVerdict(s string) Verdict {
	switch Verdict(strings.ToUpper(strings.TrimSpace(s))) {
	case VerdictAccept:
		return VerdictAccept
	case VerdictAcceptWithNotes:
		return VerdictAcceptWithNotes
	default:
		return VerdictReject
	}
}

// LLMCaller invokes a council member (or the chairman) with a system and
// user prompt and returns its raw text response.
type LLMCaller func(account, systemPrompt, userPrompt string) (string, error)

// MemberOpinion is one member's stage-1 parsed response.
type MemberOpinion struct {
	Account    string  `json:"-"`
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Ranking is one member's stage-2 ranked order of anonymized opinions,
// given as 0-based indices into the anonymized list, best first.
type Ranking struct {
	Account string
	Order   []int
}

// ChairDecision is the stage-3 synthesis.
type ChairDecision struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

// Result is the full council outcome.
type Result struct {
	Opinions      []MemberOpinion
	Rankings      map[string][]int // account -> averaged 1-based positions, aligned to Opinions order
	Chair         ChairDecision
	Degraded      bool
}

// Run executes the three stages over members with chairman as the final
// synthesizer.
func Run(call LLMCaller, members []string, chairman string, systemPrompt, userPrompt string) Result {
	opinions := collect(call, members, systemPrompt, userPrompt)
	if len(opinions) == 0 {
		return Result{Degraded: true, Chair: ChairDecision{Verdict: VerdictReject, Confidence: 0, Notes: "all council members failed to respond"}}
	}

	rankings := peerReview(call, members, opinions)
	averaged := averageRankings(rankings, len(opinions))

	chair := chair(call, chairman, opinions, rankings)

	return Result{Opinions: opinions, Rankings: averaged, Chair: chair}
}

func collect(call LLMCaller, members []string, systemPrompt, userPrompt string) []MemberOpinion {
	var out []MemberOpinion
	for _, m := range members {
		raw, err := call(m, systemPrompt, userPrompt)
		if err != nil {
			continue
		}
		op, ok := parseOpinion(raw)
		if !ok {
			continue
		}
		op.Account = m
		out = append(out, op)
	}
	return out
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON strips a markdown fence around raw if present.
func extractJSON(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); len(m) == 2 {
		return m[1]
	}
	return strings.TrimSpace(raw)
}

func parseOpinion(raw string) (MemberOpinion, bool) {
	var op MemberOpinion
	if err := json.Unmarshal([]byte(extractJSON(raw)), &op); err != nil {
		return MemberOpinion{}, false
	}
	op.Verdict = normalizeVerdict(string(op.Verdict))
	return op, true
}

// anonymize labels opinions Review A, Review B, ... in input order.
func anonymize(opinions []MemberOpinion) map[string]MemberOpinion {
	labeled := make(map[string]MemberOpinion, len(opinions))
	for i, op := range opinions {
		labeled[reviewLabel(i)] = op
	}
	return labeled
}

func reviewLabel(i int) string {
	return fmt.Sprintf("Review %c", rune('A'+i))
}

func peerReview(call LLMCaller, members []string, opinions []MemberOpinion) map[string]Ranking {
	labeled := anonymize(opinions)
	prompt := formatReviewSet(labeled, len(opinions))

	rankings := make(map[string]Ranking, len(members))
	for _, m := range members {
		raw, err := call(m, "Rank the following anonymized reviews, best first.", prompt)
		if err != nil {
			continue
		}
		order, ok := parseRanking(raw, len(opinions))
		if !ok {
			continue
		}
		rankings[m] = Ranking{Account: m, Order: order}
	}
	return rankings
}

func formatReviewSet(labeled map[string]MemberOpinion, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		label := reviewLabel(i)
		op := labeled[label]
		fmt.Fprintf(&b, "%s: verdict=%s confidence=%.2f reasoning=%s\n", label, op.Verdict, op.Confidence, op.Reasoning)
	}
	return b.String()
}

func parseRanking(raw string, n int) ([]int, bool) {
	var order []int
	if err := json.Unmarshal([]byte(extractJSON(raw)), &order); err != nil {
		return nil, false
	}
	if len(order) != n {
		return nil, false
	}
	return order, true
}

// averageRankings converts each reviewer's 0-based ranking indices into
// 1-based positions and averages them per opinion across reviewers.
func averageRankings(rankings map[string]Ranking, n int) map[string][]int {
	sums := make([]float64, n)
	counts := make([]int, n)
	for _, r := range rankings {
		for position, idx := range r.Order {
			if idx < 0 || idx >= n {
				continue
			}
			sums[idx] += float64(position + 1)
			counts[idx]++
		}
	}

	out := make(map[string][]int, len(rankings))
	for account := range rankings {
		positions := make([]int, n)
		for idx := 0; idx < n; idx++ {
			if counts[idx] == 0 {
				positions[idx] = 0
				continue
			}
			positions[idx] = int(sums[idx]/float64(counts[idx]) + 0.5)
		}
		out[account] = positions
	}
	return out
}

func chair(call LLMCaller, chairman string, opinions []MemberOpinion, rankings map[string]Ranking) ChairDecision {
	prompt := formatChairPrompt(opinions, rankings)
	raw, err := call(chairman, "Synthesize a final verdict from the council's opinions and rankings.", prompt)
	if err != nil {
		return ChairDecision{Verdict: VerdictReject, Confidence: 0, Notes: "chairman call failed: " + err.Error()}
	}

	var decision ChairDecision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decision); err != nil {
		return ChairDecision{Verdict: VerdictReject, Confidence: 0, Notes: "chairman response unparsable"}
	}
	decision.Verdict = normalizeVerdict(string(decision.Verdict))
	return decision
}

func formatChairPrompt(opinions []MemberOpinion, rankings map[string]Ranking) string {
	var b strings.Builder
	for i, op := range opinions {
		fmt.Fprintf(&b, "%s (from %s): verdict=%s confidence=%.2f reasoning=%s\n", reviewLabel(i), op.Account, op.Verdict, op.Confidence, op.Reasoning)
	}
	accounts := make([]string, 0, len(rankings))
	for a := range rankings {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	for _, a := range accounts {
		fmt.Fprintf(&b, "ranking by %s: %v\n", a, rankings[a].Order)
	}
	return b.String()
}
