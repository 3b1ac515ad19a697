package types

import "time"

const (
	StoreStatusCreated = "created"
	StoreStatusUpdated = "updated"
)

type StoreRequest struct {
	Key      string   `json:"key" validate:"required"`
	Artifact Artifact `json:"artifact" validate:"required"`
}

type StoreResponse struct {
	Key       string    `json:"key"`
	Status    string    `json:"status"`
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LookupResponse struct {
	Key                 string    `json:"key"`
	Artifact            Artifact  `json:"artifact"`
	ExpiresAt           time.Time `json:"expires_at,omitempty"`
	TTLRemainingSeconds int64     `json:"ttl_remaining_seconds"`
}

type PurgeRequest struct {
	Keys           []string `json:"keys,omitempty"`
	Tenant         string   `json:"tenant,omitempty"`
	ProvenanceHash string   `json:"provenance_hash,omitempty"`
}

type PurgeResponse struct {
	Purged int `json:"purged"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
