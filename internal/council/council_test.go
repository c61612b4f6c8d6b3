package council

import (
	"errors"
	"strings"
	"testing"
)

func TestRunCollectsAndSynthesizes(t *testing.T) {
	call := func(account, system, user string) (string, error) {
		switch account {
		case "alice":
			return `{"verdict":"accept","confidence":0.9,"reasoning":"looks good"}`, nil
		case "bob":
			return "```json\n{\"verdict\":\"REJECT\",\"confidence\":0.4,\"reasoning\":\"missing tests\"}\n```", nil
		case "chair":
			return `{"verdict":"accept_with_notes","confidence":0.7,"notes":"address bob's point"}`, nil
		default:
			if strings.HasPrefix(user, "Review") {
				return `[1,0]`, nil
			}
			return "", errors.New("unexpected member")
		}
	}

	res := Run(call, []string{"alice", "bob"}, "chair", "sys", "user")
	if res.Degraded {
		t.Fatal("Run() reported degraded when members responded")
	}
	if len(res.Opinions) != 2 {
		t.Fatalf("got %d opinions, want 2", len(res.Opinions))
	}
	if res.Chair.Verdict != VerdictAcceptWithNotes {
		t.Errorf("chair verdict = %s, want ACCEPT_WITH_NOTES", res.Chair.Verdict)
	}
}

func TestRunAllMembersFailReturnsDegradedReject(t *testing.T) {
	call := func(account, system, user string) (string, error) {
		return "", errors.New("boom")
	}
	res := Run(call, []string{"alice", "bob"}, "chair", "sys", "user")
	if !res.Degraded {
		t.Fatal("Run() should be degraded when every member fails")
	}
	if res.Chair.Verdict != VerdictReject || res.Chair.Confidence != 0 {
		t.Errorf("Chair = %+v, want REJECT/0", res.Chair)
	}
}

func TestRunDropsMembersWithUnparsableOutput(t *testing.T) {
	call := func(account, system, user string) (string, error) {
		if account == "alice" {
			return "not json at all", nil
		}
		if account == "bob" {
			return `{"verdict":"accept","confidence":0.5}`, nil
		}
		return `[0]`, nil
	}
	res := Run(call, []string{"alice", "bob"}, "bob", "sys", "user")
	if len(res.Opinions) != 1 || res.Opinions[0].Account != "bob" {
		t.Fatalf("Opinions = %+v, want only bob", res.Opinions)
	}
}

func TestNormalizeVerdictUnknownStringsNormalizeToReject(t *testing.T) {
	cases := []string{"MAYBE", "", "approve", "accept with notes"}
	for _, s := range cases {
		if got := normalizeVerdict(s); got != VerdictReject {
			t.Errorf("normalizeVerdict(%q) = %s, want REJECT", s, got)
		}
	}
}

func TestExtractJSONStripsFence(t *testing.T) {
	raw := "```json\n{\"a\":1}\n```"
	if got := extractJSON(raw); got != `{"a":1}` {
		t.Errorf("extractJSON() = %q, want stripped JSON", got)
	}
}

func TestAverageRankingsAveragesAcrossReviewers(t *testing.T) {
	rankings := map[string]Ranking{
		"r1": {Account: "r1", Order: []int{0, 1}}, // opinion0 -> pos1, opinion1 -> pos2
		"r2": {Account: "r2", Order: []int{1, 0}}, // opinion1 -> pos1, opinion0 -> pos2
	}
	avg := averageRankings(rankings, 2)
	if len(avg) != 2 {
		t.Fatalf("got %d reviewer entries, want 2", len(avg))
	}
	for _, positions := range avg {
		if positions[0]+positions[1] == 0 {
			t.Errorf("positions = %v, want nonzero averaged values", positions)
		}
	}
}

func TestReviewLabelsAreAlphaSequential(t *testing.T) {
	if reviewLabel(0) != "Review A" || reviewLabel(1) != "Review B" {
		t.Errorf("reviewLabel(0/1) = %q/%q, want Review A/Review B", reviewLabel(0), reviewLabel(1))
	}
}
