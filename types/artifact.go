package types

import (
	"encoding/json"
	"time"
)

const DefaultArtifactScore = 1.0

// PolicyContext carries the access-control and compliance envelope of an artifact.
type PolicyContext struct {
	Tenant         string   `json:"tenant" validate:"required"`
	PHI            bool     `json:"phi"`
	PII            bool     `json:"pii"`
	Region         string   `json:"region,omitempty"`
	ComplianceTags []string `json:"compliance_tags,omitempty"`
}

// ProvenanceInfo is one hop in an artifact's lineage chain.
type ProvenanceInfo struct {
	Source      string     `json:"source" validate:"required"`
	Hash        string     `json:"hash,omitempty"`
	Version     string     `json:"version,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

type ArtifactMetrics struct {
	Score       float64                `json:"score"`
	GeneratedAt *time.Time             `json:"generated_at,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

func (m *ArtifactMetrics) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Score = DefaultArtifactScore
	if v, ok := raw["score"]; ok {
		if err := json.Unmarshal(v, &m.Score); err != nil {
			return err
		}
		delete(raw, "score")
	}
	if v, ok := raw["generated_at"]; ok {
		if err := json.Unmarshal(v, &m.GeneratedAt); err != nil {
			return err
		}
		delete(raw, "generated_at")
	}

	if len(raw) > 0 {
		m.Extra = make(map[string]interface{}, len(raw))
		for k, v := range raw {
			var value interface{}
			if err := json.Unmarshal(v, &value); err != nil {
				return err
			}
			m.Extra[k] = value
		}
	}

	return nil
}

func (m ArtifactMetrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["score"] = m.Score
	if m.GeneratedAt != nil {
		out["generated_at"] = m.GeneratedAt
	}
	return json.Marshal(out)
}

// Artifact is the cached knowledge unit: an opaque answer payload plus the
// policy, provenance and TTL metadata the engine enforces around it.
type Artifact struct {
	Answer     json.RawMessage  `json:"answer" validate:"required"`
	Policy     PolicyContext    `json:"policy" validate:"required"`
	Provenance []ProvenanceInfo `json:"provenance" validate:"required,min=1,dive"`
	Metrics    *ArtifactMetrics `json:"metrics,omitempty"`
	TTLSeconds int64            `json:"ttl_seconds,omitempty" validate:"min=0"`
	Hash       string           `json:"hash" validate:"required"`
	Metadata   json.RawMessage  `json:"metadata,omitempty"`
}

// artifactAlias breaks the UnmarshalJSON recursion and carries the historical
// field names (content, ttl_sec) still emitted by older producers.
type artifactAlias struct {
	Answer        json.RawMessage  `json:"answer"`
	LegacyContent json.RawMessage  `json:"content"`
	Policy        PolicyContext    `json:"policy"`
	Provenance    []ProvenanceInfo `json:"provenance"`
	Metrics       *ArtifactMetrics `json:"metrics"`
	TTLSeconds    int64            `json:"ttl_seconds"`
	LegacyTTLSec  int64            `json:"ttl_sec"`
	Hash          string           `json:"hash"`
	Metadata      json.RawMessage  `json:"metadata"`
}

func (a *Artifact) UnmarshalJSON(data []byte) error {
	var alias artifactAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	a.Answer = alias.Answer
	if len(a.Answer) == 0 {
		a.Answer = alias.LegacyContent
	}
	a.Policy = alias.Policy
	a.Provenance = alias.Provenance
	a.Metrics = alias.Metrics
	a.TTLSeconds = alias.TTLSeconds
	if a.TTLSeconds == 0 {
		a.TTLSeconds = alias.LegacyTTLSec
	}
	a.Hash = alias.Hash
	a.Metadata = alias.Metadata

	return nil
}

// ProvenanceHashes collects the distinct non-empty provenance hashes of the
// artifact, used as secondary index memberships.
func (a *Artifact) ProvenanceHashes() []string {
	if len(a.Provenance) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(a.Provenance))
	hashes := make([]string, 0, len(a.Provenance))
	for _, p := range a.Provenance {
		if p.Hash == "" {
			continue
		}
		if _, ok := seen[p.Hash]; ok {
			continue
		}
		seen[p.Hash] = struct{}{}
		hashes = append(hashes, p.Hash)
	}

	return hashes
}

// CacheEntry is the store-owned wrapper around an artifact. ExpiresAt is
// derived from StoredAt and the normalized TTL, never supplied externally.
type CacheEntry struct {
	Key              string    `json:"key"`
	Artifact         Artifact  `json:"artifact"`
	StoredAt         time.Time `json:"stored_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	Tenant           string    `json:"tenant"`
	ProvenanceHashes []string  `json:"provenance_hashes,omitempty"`
}

func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e *CacheEntry) TTLRemainingSeconds(now time.Time) int64 {
	remaining := int64(e.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
