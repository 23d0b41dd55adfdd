package domain

import (
	"slices"
)

// RuleSetUpsertRequest is the declared desired state of a rule set.
// When Configurations is empty the rule set applies to every configuration.
type RuleSetUpsertRequest struct {
	Name           string            `json:"name" yaml:"name"`
	Configurations []string          `json:"configurations,omitempty" yaml:"configurations,omitempty"`
	Rules          []RuleDeclaration `json:"rules" yaml:"rules"`
}

// RuleDeclaration is one declared rule, as submitted. Sha256 is accepted as an
// alias of Identifier.
type RuleDeclaration struct {
	RuleType      TargetType `json:"rule_type" yaml:"rule_type"`
	Identifier    string     `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Sha256        string     `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Policy        string     `json:"policy" yaml:"policy"`
	CustomMessage string     `json:"custom_msg,omitempty" yaml:"custom_msg,omitempty"`
	SerialNumbers []string   `json:"serial_numbers,omitempty" yaml:"serial_numbers,omitempty"`
	PrimaryUsers  []string   `json:"primary_users,omitempty" yaml:"primary_users,omitempty"`
	Tags          []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// TargetIdentifier returns Identifier, falling back to Sha256.
func (d *RuleDeclaration) TargetIdentifier() string {
	if d.Identifier != "" {
		return d.Identifier
	}
	return d.Sha256
}

// DesiredRule is a validated rule declaration. Index is the position of the
// declaration in the submitted list.
type DesiredRule struct {
	Index         int
	Target        TargetKey
	Policy        Policy
	CustomMessage string
	SerialNumbers []string
	PrimaryUsers  []string
	Tags          []string
}

// SameContent reports whether two desired rules bind the same policy content.
func (d *DesiredRule) SameContent(o *DesiredRule) bool {
	return d.Policy == o.Policy &&
		d.CustomMessage == o.CustomMessage &&
		slices.Equal(d.SerialNumbers, o.SerialNumbers) &&
		slices.Equal(d.PrimaryUsers, o.PrimaryUsers) &&
		slices.Equal(d.Tags, o.Tags)
}

// Matches reports whether an existing rule already holds the desired content.
// Scope slices on both sides are expected to be sorted.
func (d *DesiredRule) Matches(r *Rule) bool {
	return d.Policy == r.Policy &&
		d.CustomMessage == r.CustomMessage &&
		slices.Equal(d.SerialNumbers, normalize(r.SerialNumbers)) &&
		slices.Equal(d.PrimaryUsers, normalize(r.PrimaryUsers)) &&
		slices.Equal(d.Tags, normalize(r.Tags))
}

func normalize(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return values
}

// RuleResultCounts summarizes one configuration's reconciliation.
type RuleResultCounts struct {
	Created int `json:"created"`
	Deleted int `json:"deleted"`
	Present int `json:"present"`
	Updated int `json:"updated"`
}

// Changed reports whether the reconciliation mutated anything.
func (c RuleResultCounts) Changed() bool {
	return c.Created+c.Deleted+c.Updated > 0
}

// RuleSetResult is whether the upsert created the rule set.
type RuleSetResult string

const (
	RuleSetCreated RuleSetResult = "created"
	RuleSetPresent RuleSetResult = "present"
)

// RuleSetUpsertResponse is returned by a successful upsert.
type RuleSetUpsertResponse struct {
	RuleSet        RuleSetSummary        `json:"ruleset"`
	Configurations []ConfigurationResult `json:"configurations"`
}

// RuleSetSummary identifies the upserted rule set.
type RuleSetSummary struct {
	ID     int64         `json:"pk"`
	Name   string        `json:"name"`
	Result RuleSetResult `json:"result"`
}

// ConfigurationResult is the reconciliation result of one configuration.
type ConfigurationResult struct {
	ID          int64            `json:"pk"`
	Name        string           `json:"name"`
	RuleResults RuleResultCounts `json:"rule_results"`
}
