package types

// TenantPolicyRecord is the externally loaded, immutable-after-load policy
// configuration for one tenant. APIKey may be a plaintext secret or a bcrypt
// hash (recognized by its $2 prefix).
type TenantPolicyRecord struct {
	TenantID             string   `yaml:"tenant_id" json:"tenant_id" validate:"required"`
	APIKey               string   `yaml:"api_key" json:"api_key"`
	AllowedRegions       []string `yaml:"allowed_regions" json:"allowed_regions"`
	MaxTTLSeconds        int64    `yaml:"max_ttl_seconds" json:"max_ttl_seconds" validate:"min=0"`
	RequirePHICompliance bool     `yaml:"require_phi_compliance" json:"require_phi_compliance"`
	RequirePIICompliance bool     `yaml:"require_pii_compliance" json:"require_pii_compliance"`
}
