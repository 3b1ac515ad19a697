package policy

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/memophor/scedge/types"
)

// Engine enforces tenant policy at store and lookup time. The record set is
// immutable after load; with no records loaded the engine runs in open mode
// and skips credential and compliance checks entirely.
type Engine struct {
	tenants map[string]types.TenantPolicyRecord
}

func NewEngine(records []types.TenantPolicyRecord) *Engine {
	tenants := make(map[string]types.TenantPolicyRecord, len(records))
	for _, record := range records {
		tenants[record.TenantID] = record
	}
	return &Engine{tenants: tenants}
}

func (e *Engine) OpenMode() bool {
	return len(e.tenants) == 0
}

func (e *Engine) Tenant(tenantID string) (types.TenantPolicyRecord, bool) {
	record, ok := e.tenants[tenantID]
	return record, ok
}

// ValidateStore checks the artifact against its tenant's record. Compliance
// flags fail closed: a tenant that requires PHI or PII handling rejects
// artifacts that under-declare the category. Overstating is permitted.
func (e *Engine) ValidateStore(artifact *types.Artifact, apiKey string) error {
	if e.OpenMode() {
		return nil
	}

	tenantID := artifact.Policy.Tenant
	record, ok := e.tenants[tenantID]
	if !ok {
		return types.Errorf(types.ErrTenantUnknown, "tenant %q", tenantID)
	}

	if err := e.checkAPIKey(record, apiKey); err != nil {
		return err
	}

	if record.RequirePHICompliance && !artifact.Policy.PHI {
		return types.Errorf(types.ErrPolicyViolation,
			"tenant %q requires phi declaration", tenantID)
	}
	if record.RequirePIICompliance && !artifact.Policy.PII {
		return types.Errorf(types.ErrPolicyViolation,
			"tenant %q requires pii declaration", tenantID)
	}

	if artifact.Policy.Region != "" && len(record.AllowedRegions) > 0 {
		if !containsString(record.AllowedRegions, artifact.Policy.Region) {
			return types.Errorf(types.ErrPolicyViolation,
				"region %q not allowed for tenant %q", artifact.Policy.Region, tenantID)
		}
	}

	return nil
}

// ClampTTL bounds a declared TTL to [1, max_ttl_seconds] for tenants with a
// limit. Undeclared TTLs pass through so the cache default applies.
func (e *Engine) ClampTTL(tenantID string, declared int64) int64 {
	if declared <= 0 {
		return declared
	}

	record, ok := e.tenants[tenantID]
	if !ok || record.MaxTTLSeconds <= 0 {
		return declared
	}

	if declared > record.MaxTTLSeconds {
		return record.MaxTTLSeconds
	}
	return declared
}

// ValidateLookup applies tenant isolation. A filtered lookup on an entry
// owned by another tenant is reported as a plain miss so existence never
// leaks across tenants.
func (e *Engine) ValidateLookup(entry *types.CacheEntry, requestedTenant string) error {
	if requestedTenant == "" {
		return nil
	}
	if entry.Tenant != requestedTenant {
		return types.ErrNotFound
	}
	return nil
}

// ValidateCredential checks a presented API key against the tenant's record.
// Used on lookup and purge paths where no artifact is in hand.
func (e *Engine) ValidateCredential(tenantID, apiKey string) error {
	if e.OpenMode() {
		return nil
	}

	record, ok := e.tenants[tenantID]
	if !ok {
		return types.Errorf(types.ErrTenantUnknown, "tenant %q", tenantID)
	}

	return e.checkAPIKey(record, apiKey)
}

// checkAPIKey compares the presented credential against the record. Hashed
// records (bcrypt, "$2" prefix) are verified with bcrypt; plaintext records
// use a constant-time comparison. Records without a key skip the check.
func (e *Engine) checkAPIKey(record types.TenantPolicyRecord, presented string) error {
	if record.APIKey == "" {
		return nil
	}

	if strings.HasPrefix(record.APIKey, "$2") {
		if err := bcrypt.CompareHashAndPassword([]byte(record.APIKey), []byte(presented)); err != nil {
			return types.ErrAPIKeyInvalid
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(record.APIKey), []byte(presented)) != 1 {
		return types.ErrAPIKeyInvalid
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
