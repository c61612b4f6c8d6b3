package receipts

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestComputeSpecHashStableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	ha, err := ComputeSpecHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := ComputeSpecHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("hashes differ across key order: %s vs %s", ha, hb)
	}
}

func TestComputeSpecHashDiffersForDifferentValues(t *testing.T) {
	ha, _ := ComputeSpecHash(map[string]any{"a": 1})
	hb, _ := ComputeSpecHash(map[string]any{"a": 2})
	if ha == hb {
		t.Error("different values produced the same hash")
	}
}

func TestLoadOrCreateKeyPersistsAndReuses(t *testing.T) {
	dir := t.TempDir()

	k1, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(k1) != keySize {
		t.Fatalf("key length = %d, want %d", len(k1), keySize)
	}

	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file perm = %v, want 0600", perm)
	}

	k2, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) != string(k2) {
		t.Error("LoadOrCreateKey() should reuse the existing key on a second call")
	}
}

func TestCreateAndVerifyReceiptRoundTrip(t *testing.T) {
	key := []byte("test-signing-key-0123456789abcd")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r, err := CreateReceipt(key, CreateParams{
		TaskID: "t1", SpecHash: "abc123", Verdict: VerdictAccepted,
		Method: MethodAutoAcceptance, VerificationMethod: VerificationAutoTest,
		Verifier: "council", Now: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Signature == "" {
		t.Fatal("CreateReceipt() produced an empty signature")
	}
	if r.ID == "" {
		t.Error("CreateReceipt() left ID empty")
	}

	ok, err := VerifyReceipt(key, r)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("VerifyReceipt() = false, want true for an untampered receipt")
	}
}

func TestCreateReceiptAssignsUniqueIDs(t *testing.T) {
	key := []byte("test-signing-key-0123456789abcd")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	params := CreateParams{TaskID: "t1", SpecHash: "abc123", Verdict: VerdictAccepted, Now: now}

	a, err := CreateReceipt(key, params)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CreateReceipt(key, params)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("CreateReceipt() produced the same ID for two separate receipts")
	}
}

func TestVerifyReceiptRejectsTamperedHandoffFields(t *testing.T) {
	key := []byte("test-signing-key-0123456789abcd")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r, _ := CreateReceipt(key, CreateParams{
		TaskID: "t1", HandoffID: "h1", Delegator: "alice", Delegatee: "bob",
		SpecHash: "abc123", Verdict: VerdictAccepted, Now: now,
	})
	r.Delegatee = "carol"

	ok, err := VerifyReceipt(key, r)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("VerifyReceipt() = true after tampering with delegatee, want false")
	}
}

func TestVerifyReceiptRejectsTamperedField(t *testing.T) {
	key := []byte("test-signing-key-0123456789abcd")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r, _ := CreateReceipt(key, CreateParams{TaskID: "t1", SpecHash: "abc123", Verdict: VerdictAccepted, Verifier: "council", Now: now})
	r.Verdict = VerdictRejected

	ok, err := VerifyReceipt(key, r)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("VerifyReceipt() = true for a tampered receipt, want false")
	}
}

func TestVerifyReceiptRejectsWrongKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r, _ := CreateReceipt([]byte("key-one-0123456789abcdef01234567"), CreateParams{TaskID: "t1", SpecHash: "abc", Verdict: VerdictAccepted, Now: now})

	ok, err := VerifyReceipt([]byte("key-two-0123456789abcdef01234567"), r)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("VerifyReceipt() = true with the wrong key, want false")
	}
}

func TestReceiptSignatureExcludesEmptyArtifacts(t *testing.T) {
	key := []byte("test-signing-key-0123456789abcd")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	withNil, _ := CreateReceipt(key, CreateParams{TaskID: "t1", SpecHash: "h", Verdict: VerdictAccepted, Now: now, Artifacts: nil})
	withEmpty, _ := CreateReceipt(key, CreateParams{TaskID: "t1", SpecHash: "h", Verdict: VerdictAccepted, Now: now, Artifacts: map[string]string{}})

	// Each receipt gets its own random, signed ID; re-sign the empty-map
	// receipt under the nil receipt's ID so only Artifacts differs.
	withEmpty.ID = withNil.ID
	resigned, err := sign(key, withEmpty)
	if err != nil {
		t.Fatalf("sign() error = %v", err)
	}
	if withNil.Signature != resigned {
		t.Error("nil and empty-map Artifacts should sign identically since both are excluded")
	}
}
