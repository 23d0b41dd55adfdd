package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
//
// Transactions work on a private copy of the state and replace the shared
// state on Commit. Only one transaction runs at a time; writes outside a
// transaction wait for it to finish.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	s.txMu.Lock()
	s.mu.RLock()
	st := s.st.clone()
	s.mu.RUnlock()
	return &Tx{store: s, st: st}, nil
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// Tx is a snapshot transaction over the in-memory store.
type Tx struct {
	store *Store
	st    *state
	done  bool
}

func (t *Tx) Commit() error {
	if t.done {
		return domain.ErrInvalidInput
	}
	t.done = true
	t.store.mu.Lock()
	t.store.st = t.st
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) Close() error { return nil }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

type state struct {
	nextID           int64
	apiKeys          map[string]domain.APIKey
	configurations   map[int64]domain.Configuration
	targets          map[int64]domain.Target
	ruleSets         map[int64]domain.RuleSet
	rules            map[int64]domain.Rule
	certificates     map[int64]domain.Certificate
	files            map[int64]domain.File
	snapshots        map[int64]domain.MachineSnapshot
	currentSnapshots map[string]int64                    // key: module:name:serial
	enrollments      map[string]domain.EnrollmentSession // key: secret
}

func newState() *state {
	return &state{
		apiKeys:          make(map[string]domain.APIKey),
		configurations:   make(map[int64]domain.Configuration),
		targets:          make(map[int64]domain.Target),
		ruleSets:         make(map[int64]domain.RuleSet),
		rules:            make(map[int64]domain.Rule),
		certificates:     make(map[int64]domain.Certificate),
		files:            make(map[int64]domain.File),
		snapshots:        make(map[int64]domain.MachineSnapshot),
		currentSnapshots: make(map[string]int64),
		enrollments:      make(map[string]domain.EnrollmentSession),
	}
}

// clone copies the maps. Stored values never share mutable memory with
// callers, so a shallow copy of each map is enough.
func (st *state) clone() *state {
	return &state{
		nextID:           st.nextID,
		apiKeys:          maps.Clone(st.apiKeys),
		configurations:   maps.Clone(st.configurations),
		targets:          maps.Clone(st.targets),
		ruleSets:         maps.Clone(st.ruleSets),
		rules:            maps.Clone(st.rules),
		certificates:     maps.Clone(st.certificates),
		files:            maps.Clone(st.files),
		snapshots:        maps.Clone(st.snapshots),
		currentSnapshots: maps.Clone(st.currentSnapshots),
		enrollments:      maps.Clone(st.enrollments),
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := slices.Collect(maps.Keys(m))
	slices.Sort(ids)
	return ids
}

// ============================================
// API Keys
// ============================================

func (st *state) createAPIKey(key *domain.APIKey) error {
	for _, k := range st.apiKeys {
		if k.KeyHash == key.KeyHash {
			return domain.ErrAlreadyExists
		}
	}
	st.apiKeys[key.ID] = *key
	return nil
}

func (st *state) getAPIKeyByHash(keyHash string) (*domain.APIKey, error) {
	for _, k := range st.apiKeys {
		if k.KeyHash == keyHash {
			return &k, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (st *state) listAPIKeys() []*domain.APIKey {
	keys := make([]*domain.APIKey, 0, len(st.apiKeys))
	for _, k := range st.apiKeys {
		keys = append(keys, &k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys
}

func (st *state) countAPIKeys() int {
	return len(st.apiKeys)
}

func (st *state) deleteAPIKey(id string) error {
	if _, ok := st.apiKeys[id]; !ok {
		return domain.ErrNotFound
	}
	delete(st.apiKeys, id)
	return nil
}

func (st *state) updateAPIKeyLastUsed(id string) error {
	k, ok := st.apiKeys[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	k.LastUsedAt = &now
	st.apiKeys[id] = k
	return nil
}

// ============================================
// Configurations
// ============================================

func (st *state) createConfiguration(cfg *domain.Configuration) error {
	for _, c := range st.configurations {
		if c.Name == cfg.Name {
			return domain.ErrAlreadyExists
		}
	}
	cfg.ID = st.id()
	st.configurations[cfg.ID] = *cfg
	return nil
}

func (st *state) getConfiguration(id int64) (*domain.Configuration, error) {
	c, ok := st.configurations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (st *state) getConfigurationByName(name string) (*domain.Configuration, error) {
	for _, c := range st.configurations {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (st *state) listConfigurations() []*domain.Configuration {
	out := make([]*domain.Configuration, 0, len(st.configurations))
	for _, id := range sortedIDs(st.configurations) {
		c := st.configurations[id]
		out = append(out, &c)
	}
	return out
}

// ============================================
// Targets
// ============================================

func (st *state) createTarget(target *domain.Target) error {
	if _, err := st.getTarget(target.Type, target.Identifier); err == nil {
		return domain.ErrAlreadyExists
	}
	target.ID = st.id()
	st.targets[target.ID] = *target
	return nil
}

func (st *state) getTarget(targetType domain.TargetType, identifier string) (*domain.Target, error) {
	for _, t := range st.targets {
		if t.Type == targetType && t.Identifier == identifier {
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ============================================
// Rule Sets
// ============================================

func (st *state) createRuleSet(rs *domain.RuleSet) error {
	if _, err := st.getRuleSetByName(rs.Name); err == nil {
		return domain.ErrAlreadyExists
	}
	rs.ID = st.id()
	st.ruleSets[rs.ID] = *rs
	return nil
}

func (st *state) getRuleSetByName(name string) (*domain.RuleSet, error) {
	for _, rs := range st.ruleSets {
		if rs.Name == name {
			return &rs, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (st *state) listRuleSets() []*domain.RuleSet {
	out := make([]*domain.RuleSet, 0, len(st.ruleSets))
	for _, id := range sortedIDs(st.ruleSets) {
		rs := st.ruleSets[id]
		out = append(out, &rs)
	}
	return out
}

func (st *state) touchRuleSet(id int64) error {
	rs, ok := st.ruleSets[id]
	if !ok {
		return domain.ErrNotFound
	}
	rs.UpdatedAt = time.Now()
	st.ruleSets[id] = rs
	return nil
}

// ============================================
// Rules
// ============================================

func copyRule(r domain.Rule) domain.Rule {
	r.Target = nil
	r.SerialNumbers = slices.Clone(r.SerialNumbers)
	r.PrimaryUsers = slices.Clone(r.PrimaryUsers)
	r.Tags = slices.Clone(r.Tags)
	if r.RuleSetID != nil {
		id := *r.RuleSetID
		r.RuleSetID = &id
	}
	return r
}

func (st *state) createRule(rule *domain.Rule) error {
	if _, ok := st.configurations[rule.ConfigurationID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := st.targets[rule.TargetID]; !ok {
		return domain.ErrNotFound
	}
	for _, r := range st.rules {
		if r.ConfigurationID == rule.ConfigurationID && r.TargetID == rule.TargetID {
			return domain.ErrAlreadyExists
		}
	}
	rule.ID = st.id()
	st.rules[rule.ID] = copyRule(*rule)
	return nil
}

func (st *state) updateRule(rule *domain.Rule) error {
	existing, ok := st.rules[rule.ID]
	if !ok {
		return domain.ErrNotFound
	}
	updated := copyRule(*rule)
	updated.ConfigurationID = existing.ConfigurationID
	updated.TargetID = existing.TargetID
	updated.CreatedAt = existing.CreatedAt
	st.rules[rule.ID] = updated
	return nil
}

func (st *state) deleteRule(id int64) error {
	if _, ok := st.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(st.rules, id)
	return nil
}

func (st *state) listRules(configurationID int64) []*domain.Rule {
	var out []*domain.Rule
	for _, id := range sortedIDs(st.rules) {
		r := st.rules[id]
		if r.ConfigurationID != configurationID {
			continue
		}
		r = copyRule(r)
		t := st.targets[r.TargetID]
		r.Target = &t
		out = append(out, &r)
	}
	return out
}

// ============================================
// Inventory
// ============================================

func (st *state) createCertificate(cert *domain.Certificate) error {
	if _, err := st.getCertificateByHash(cert.MTHash); err == nil {
		return domain.ErrAlreadyExists
	}
	cert.ID = st.id()
	c := *cert
	c.SignedBy = nil
	st.certificates[cert.ID] = c
	return nil
}

func (st *state) getCertificateByHash(mtHash string) (*domain.Certificate, error) {
	for _, c := range st.certificates {
		if c.MTHash == mtHash {
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (st *state) createFile(file *domain.File) error {
	if _, err := st.getFileByHash(file.MTHash); err == nil {
		return domain.ErrAlreadyExists
	}
	file.ID = st.id()
	f := *file
	f.SignedBy = nil
	st.files[file.ID] = f
	return nil
}

func (st *state) getFileByHash(mtHash string) (*domain.File, error) {
	for _, f := range st.files {
		if f.MTHash == mtHash {
			return &f, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (st *state) countFiles(sha256 string) int {
	n := 0
	for _, f := range st.files {
		if f.Sha256 == sha256 {
			n++
		}
	}
	return n
}

func (st *state) countCertificates(sha256 string) int {
	n := 0
	for _, c := range st.certificates {
		if c.Sha256 == sha256 {
			n++
		}
	}
	return n
}

func (st *state) createMachineSnapshot(ms *domain.MachineSnapshot) error {
	if _, err := st.getMachineSnapshotByHash(ms.MTHash); err == nil {
		return domain.ErrAlreadyExists
	}
	ms.ID = st.id()
	st.snapshots[ms.ID] = *ms
	return nil
}

func (st *state) getMachineSnapshotByHash(mtHash string) (*domain.MachineSnapshot, error) {
	for _, ms := range st.snapshots {
		if ms.MTHash == mtHash {
			return &ms, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (st *state) setCurrentMachineSnapshot(ms *domain.MachineSnapshot) bool {
	key := ms.Source.Module + ":" + ms.Source.Name + ":" + ms.SerialNumber
	if current, ok := st.currentSnapshots[key]; ok && current == ms.ID {
		return false
	}
	st.currentSnapshots[key] = ms.ID
	return true
}

// ============================================
// Enrollment sessions
// ============================================

func (st *state) createEnrollmentSession(es *domain.EnrollmentSession) error {
	if _, ok := st.enrollments[es.Secret]; ok {
		return domain.ErrAlreadyExists
	}
	sorted := slices.Clone(es.SerialNumbers)
	slices.Sort(sorted)
	if len(slices.Compact(sorted)) != len(es.SerialNumbers) {
		return domain.ErrAlreadyExists
	}
	es.ID = st.id()
	e := *es
	e.SerialNumbers = slices.Clone(es.SerialNumbers)
	st.enrollments[es.Secret] = e
	return nil
}

func (st *state) getEnrollmentSessionBySecret(secret string) (*domain.EnrollmentSession, error) {
	e, ok := st.enrollments[secret]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.SerialNumbers = slices.Clone(e.SerialNumbers)
	return &e, nil
}

func (st *state) deleteEnrollmentSession(secret string) error {
	if _, ok := st.enrollments[secret]; !ok {
		return domain.ErrNotFound
	}
	delete(st.enrollments, secret)
	return nil
}
