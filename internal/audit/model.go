package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/vitalis-health/clinsight/internal/shared/types"
)

// Outcome classifies how an attempted prediction terminated. Exactly one
// record exists per attempted prediction, whatever the outcome.
type Outcome string

const (
	OutcomeCompleted            Outcome = "completed"
	OutcomeRejectedConsent      Outcome = "rejected_consent"
	OutcomeRejectedUndetermined Outcome = "rejected_undetermined"
	OutcomeModelTimeout         Outcome = "model_timeout"
	OutcomeModelFailure         Outcome = "model_failure"
	OutcomeInvalidOutput        Outcome = "invalid_output"
)

// Record is the immutable audit entry for one attempted prediction. The
// free-text fields (InputSnapshot, Prompt, ModelOutput) are stored only
// after redaction; PatientRef is retained separately as an opaque key.
type Record struct {
	PredictionID types.ID `json:"prediction_id"`
	Sequence     int64    `json:"sequence"`
	PatientRef   string   `json:"patient_ref"`
	Outcome      Outcome  `json:"outcome"`

	InputSnapshot string          `json:"input_snapshot"`
	Prompt        string          `json:"prompt"`
	ModelOutput   string          `json:"model_output"`
	ReferenceIDs  []string        `json:"reference_ids"`
	Assessment    json.RawMessage `json:"assessment,omitempty"`

	DegradedContext bool   `json:"degraded_context"`
	ModelName       string `json:"model_name"`
	ModelVersion    string `json:"model_version,omitempty"`

	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ComputeHash hashes the record content plus PrevHash, chaining records
// for tamper evidence. Hash and Sequence are excluded from the digest.
func (r *Record) ComputeHash() string {
	shadow := *r
	shadow.Hash = ""
	shadow.Sequence = 0

	data, err := canonicalJSON(shadow)
	if err != nil {
		// Record content is always JSON-encodable; a failure here means a
		// programming error, and an empty hash will fail verification.
		return ""
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether the stored hash matches the record content.
func (r *Record) VerifyHash() bool {
	return r.Hash != "" && r.Hash == r.ComputeHash()
}

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps iterate in random order and JSONB may reorder keys, so hashing
// requires a canonical encoding.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// Filter narrows audit queries.
type Filter struct {
	PredictionID types.ID
	PatientRef   string
	Outcome      Outcome
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
}
