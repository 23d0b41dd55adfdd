package domain

import (
	"fmt"
	"slices"
	"time"
)

// TargetType is the kind of policy subject a rule applies to.
type TargetType string

const (
	TargetBinary      TargetType = "BINARY"
	TargetBundle      TargetType = "BUNDLE"
	TargetCertificate TargetType = "CERTIFICATE"
	TargetTeamID      TargetType = "TEAMID"
	TargetSigningID   TargetType = "SIGNINGID"
)

// TargetTypes lists every supported target type.
var TargetTypes = []TargetType{TargetBinary, TargetBundle, TargetCertificate, TargetTeamID, TargetSigningID}

// IsValid reports whether t is a known target type.
func (t TargetType) IsValid() bool {
	return slices.Contains(TargetTypes, t)
}

// IsHash reports whether identifiers of this type are sha256 hex digests.
func (t TargetType) IsHash() bool {
	return t == TargetBinary || t == TargetBundle || t == TargetCertificate
}

// Policy is the Santa rule policy. The numeric values are persisted.
type Policy int

const (
	PolicyAllowlist         Policy = 1
	PolicyBlocklist         Policy = 2
	PolicySilentBlocklist   Policy = 3
	PolicyAllowlistCompiler Policy = 5
)

var policyNames = map[Policy]string{
	PolicyAllowlist:         "ALLOWLIST",
	PolicyBlocklist:         "BLOCKLIST",
	PolicySilentBlocklist:   "SILENT_BLOCKLIST",
	PolicyAllowlistCompiler: "ALLOWLIST_COMPILER",
}

// BundlePolicies are the only policies a BUNDLE target accepts.
var BundlePolicies = []Policy{PolicyAllowlist, PolicyAllowlistCompiler}

// ParsePolicy converts a policy name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	for p, n := range policyNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidInput, name)
}

// String returns the policy name.
func (p Policy) String() string {
	if n, ok := policyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// IsBlocking reports whether the policy blocks execution.
func (p Policy) IsBlocking() bool {
	return p == PolicyBlocklist || p == PolicySilentBlocklist
}

// MarshalText encodes the policy as its name.
func (p Policy) MarshalText() ([]byte, error) {
	n, ok := policyNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown policy %d", int(p))
	}
	return []byte(n), nil
}

// UnmarshalText decodes a policy name.
func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Target identifies a policy subject. Unique per (Type, Identifier).
type Target struct {
	ID         int64      `json:"pk" db:"id"`
	Type       TargetType `json:"type" db:"type"`
	Identifier string     `json:"identifier" db:"identifier"`
}

// Key returns the (type, identifier) key of the target.
func (t *Target) Key() TargetKey {
	return TargetKey{Type: t.Type, Identifier: t.Identifier}
}

// TargetKey is the natural key of a Target.
type TargetKey struct {
	Type       TargetType
	Identifier string
}

// Configuration is a Santa deployment owning zero or more rules.
type Configuration struct {
	ID         int64     `json:"pk" db:"id"`
	Name       string    `json:"name" db:"name"`
	ClientMode int       `json:"client_mode" db:"client_mode"`
	BatchSize  int       `json:"batch_size" db:"batch_size"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Santa client modes.
const (
	ClientModeMonitor  = 1
	ClientModeLockdown = 2

	DefaultBatchSize = 50
)

// CreateConfigurationRequest is the request body for creating a configuration.
type CreateConfigurationRequest struct {
	Name       string `json:"name"`
	ClientMode int    `json:"client_mode,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
}

// RuleSet is a named bundle of declared rules. Rules bound to a RuleSet are
// managed by its upserts.
type RuleSet struct {
	ID        int64     `json:"pk" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Rule binds a policy to a target within a configuration. At most one rule
// exists per (ConfigurationID, TargetID). A nil RuleSetID marks a manually
// created rule that no rule-set reconciliation may delete.
type Rule struct {
	ID              int64     `json:"pk" db:"id"`
	ConfigurationID int64     `json:"configuration" db:"configuration_id"`
	RuleSetID       *int64    `json:"ruleset,omitempty" db:"ruleset_id"`
	TargetID        int64     `json:"-" db:"target_id"`
	Target          *Target   `json:"target" db:"-"`
	Policy          Policy    `json:"policy" db:"policy"`
	CustomMessage   string    `json:"custom_msg" db:"custom_msg"`
	Version         int       `json:"version" db:"version"`
	SerialNumbers   []string  `json:"serial_numbers" db:"-"`
	PrimaryUsers    []string  `json:"primary_users" db:"-"`
	Tags            []string  `json:"tags" db:"-"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OwnedBy reports whether the rule is managed by the given rule set.
func (r *Rule) OwnedBy(ruleSetID int64) bool {
	return r.RuleSetID != nil && *r.RuleSetID == ruleSetID
}

// CreateRuleRequest is the request body for creating an unmanaged rule.
type CreateRuleRequest struct {
	RuleDeclaration
}
