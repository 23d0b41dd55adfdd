package storage

import (
	"context"

	"github.com/zentral/zentral/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
//
// Create methods for unique entities (targets, rule sets, certificates,
// files, machine snapshots) return domain.ErrAlreadyExists when the natural
// key is taken, without aborting an enclosing transaction.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Configurations, ordered by primary key.
	CreateConfiguration(ctx context.Context, cfg *domain.Configuration) error
	GetConfiguration(ctx context.Context, id int64) (*domain.Configuration, error)
	GetConfigurationByName(ctx context.Context, name string) (*domain.Configuration, error)
	ListConfigurations(ctx context.Context) ([]*domain.Configuration, error)

	// Targets
	CreateTarget(ctx context.Context, target *domain.Target) error
	GetTarget(ctx context.Context, targetType domain.TargetType, identifier string) (*domain.Target, error)

	// Rule Sets
	CreateRuleSet(ctx context.Context, ruleSet *domain.RuleSet) error
	GetRuleSetByName(ctx context.Context, name string) (*domain.RuleSet, error)
	ListRuleSets(ctx context.Context) ([]*domain.RuleSet, error)
	TouchRuleSet(ctx context.Context, id int64) error

	// Rules. ListRules returns every rule of a configuration with its Target
	// populated, ordered by primary key.
	CreateRule(ctx context.Context, rule *domain.Rule) error
	UpdateRule(ctx context.Context, rule *domain.Rule) error
	DeleteRule(ctx context.Context, id int64) error
	ListRules(ctx context.Context, configurationID int64) ([]*domain.Rule, error)

	// Inventory
	CreateCertificate(ctx context.Context, cert *domain.Certificate) error
	GetCertificateByHash(ctx context.Context, mtHash string) (*domain.Certificate, error)
	CreateFile(ctx context.Context, file *domain.File) error
	GetFileByHash(ctx context.Context, mtHash string) (*domain.File, error)
	CountFiles(ctx context.Context, sha256 string) (int, error)
	CountCertificates(ctx context.Context, sha256 string) (int, error)
	CreateMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) error
	GetMachineSnapshotByHash(ctx context.Context, mtHash string) (*domain.MachineSnapshot, error)
	// SetCurrentMachineSnapshot points (source, serial number) at snapshot and
	// reports whether the pointer changed.
	SetCurrentMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) (bool, error)

	// Enrollment sessions
	CreateEnrollmentSession(ctx context.Context, session *domain.EnrollmentSession) error
	GetEnrollmentSessionBySecret(ctx context.Context, secret string) (*domain.EnrollmentSession, error)
	DeleteEnrollmentSession(ctx context.Context, secret string) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
