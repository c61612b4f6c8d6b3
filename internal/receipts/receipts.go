// Package receipts implements spec-hash computation and HMAC-signed
// verification receipts (spec §4.13). The canonical-JSON-then-hash shape
// has no teacher analogue; it is built directly from the spec's own
// description, using only crypto/sha256, crypto/hmac, crypto/subtle, and
// crypto/rand for key generation —
// see DESIGN.md for why no third-party signing library from the example
// pack fits a local HMAC-over-JSON receipt.
package receipts

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Verdict is the non-repudiable accept/reject outcome a receipt attests to.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// Method is how the verdict was reached.
type Method string

const (
	MethodAutoAcceptance Method = "auto-acceptance"
	MethodHumanReview    Method = "human-review"
)

// VerificationMethod is what produced the verdict's evidence.
type VerificationMethod string

const (
	VerificationAutoTest     VerificationMethod = "auto-test"
	VerificationHumanReview  VerificationMethod = "human-review"
	VerificationCouncilReview VerificationMethod = "council-review"
)

// KeyFileName is the receipt signing key's file name under the hub directory.
const KeyFileName = "receipt.key"

const keySize = 32

// LoadOrCreateKey reads <hubDir>/receipt.key, creating a fresh random key
// with owner-only permissions if it does not already exist.
func LoadOrCreateKey(hubDir string) ([]byte, error) {
	path := filepath.Join(hubDir, KeyFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read receipt key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate receipt key: %w", err)
	}
	if err := os.MkdirAll(hubDir, 0o755); err != nil {
		return nil, fmt.Errorf("create hub dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write receipt key: %w", err)
	}
	return key, nil
}

// Receipt is the spec's VerificationReceipt (§3): a non-repudiable
// attestation that a task's acceptance criteria and spec hash matched at
// verification time, and how that verdict was reached.
type Receipt struct {
	ID                 string             `json:"id"`
	TaskID             string             `json:"taskId"`
	HandoffID          string             `json:"handoffId,omitempty"`
	Delegator          string             `json:"delegator,omitempty"`
	Delegatee          string             `json:"delegatee,omitempty"`
	SpecHash           string             `json:"specHash"`
	Verdict            Verdict            `json:"verdict"`
	Method             Method             `json:"method"`
	VerificationMethod VerificationMethod `json:"verificationMethod"`
	Verifier           string             `json:"verifier"`
	Artifacts          map[string]string  `json:"artifacts,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	Signature          string             `json:"signature"`
}

// CreateParams are the inputs to CreateReceipt.
type CreateParams struct {
	TaskID             string
	HandoffID          string
	Delegator          string
	Delegatee          string
	SpecHash           string
	Verdict            Verdict
	Method             Method
	VerificationMethod VerificationMethod
	Verifier           string
	Artifacts          map[string]string
	Now                time.Time
}

// ComputeSpecHash serializes value with sorted object keys and returns
// its hex-encoded SHA-256 digest.
func ComputeSpecHash(value any) (string, error) {
	canon, err := canonicalJSON(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON round-trips value through json.Marshal/Unmarshal into a
// generic representation, then re-marshals maps with sorted keys so the
// output is stable regardless of struct field order.
func canonicalJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// signedFields is the sorted field set the signature covers. Artifacts
// is omitted from the signed payload when empty, per spec §4.13.
func signedFields(r Receipt) map[string]any {
	fields := map[string]any{
		"id":                 r.ID,
		"taskId":             r.TaskID,
		"handoffId":          r.HandoffID,
		"delegator":          r.Delegator,
		"delegatee":          r.Delegatee,
		"specHash":           r.SpecHash,
		"verdict":            r.Verdict,
		"method":             r.Method,
		"verificationMethod": r.VerificationMethod,
		"verifier":           r.Verifier,
		"createdAt":          r.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(r.Artifacts) > 0 {
		fields["artifacts"] = r.Artifacts
	}
	return fields
}

func sign(key []byte, r Receipt) (string, error) {
	canon, err := canonicalJSON(signedFields(r))
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canon)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CreateReceipt builds and signs a Receipt from params using key.
func CreateReceipt(key []byte, params CreateParams) (Receipt, error) {
	r := Receipt{
		ID:                 uuid.NewString(),
		TaskID:             params.TaskID,
		HandoffID:          params.HandoffID,
		Delegator:          params.Delegator,
		Delegatee:          params.Delegatee,
		SpecHash:           params.SpecHash,
		Verdict:            params.Verdict,
		Method:             params.Method,
		VerificationMethod: params.VerificationMethod,
		Verifier:           params.Verifier,
		Artifacts:          params.Artifacts,
		CreatedAt:          params.Now,
	}
	sig, err := sign(key, r)
	if err != nil {
		return Receipt{}, err
	}
	r.Signature = sig
	return r, nil
}

// VerifyReceipt recomputes r's signature with key and compares it to
// r.Signature in constant time.
func VerifyReceipt(key []byte, r Receipt) (bool, error) {
	expected, err := sign(key, r)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(r.Signature)) == 1, nil
}
