package memory

import (
	"context"

	"github.com/zentral/zentral/internal/domain"
)

// Store methods lock the shared state, Tx methods work on the transaction copy.

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return s.write(func(st *state) error { return st.createAPIKey(key) })
}
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (key *domain.APIKey, err error) {
	err = s.read(func(st *state) error { key, err = st.getAPIKeyByHash(keyHash); return err })
	return key, err
}
func (s *Store) ListAPIKeys(ctx context.Context) (keys []*domain.APIKey, err error) {
	err = s.read(func(st *state) error { keys = st.listAPIKeys(); return nil })
	return keys, err
}
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.deleteAPIKey(id) })
}
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.updateAPIKeyLastUsed(id) })
}
func (s *Store) CountAPIKeys(ctx context.Context) (n int, err error) {
	err = s.read(func(st *state) error { n = st.countAPIKeys(); return nil })
	return n, err
}

func (s *Store) CreateConfiguration(ctx context.Context, cfg *domain.Configuration) error {
	return s.write(func(st *state) error { return st.createConfiguration(cfg) })
}
func (s *Store) GetConfiguration(ctx context.Context, id int64) (cfg *domain.Configuration, err error) {
	err = s.read(func(st *state) error { cfg, err = st.getConfiguration(id); return err })
	return cfg, err
}
func (s *Store) GetConfigurationByName(ctx context.Context, name string) (cfg *domain.Configuration, err error) {
	err = s.read(func(st *state) error { cfg, err = st.getConfigurationByName(name); return err })
	return cfg, err
}
func (s *Store) ListConfigurations(ctx context.Context) (cfgs []*domain.Configuration, err error) {
	err = s.read(func(st *state) error { cfgs = st.listConfigurations(); return nil })
	return cfgs, err
}

func (s *Store) CreateTarget(ctx context.Context, target *domain.Target) error {
	return s.write(func(st *state) error { return st.createTarget(target) })
}
func (s *Store) GetTarget(ctx context.Context, targetType domain.TargetType, identifier string) (target *domain.Target, err error) {
	err = s.read(func(st *state) error { target, err = st.getTarget(targetType, identifier); return err })
	return target, err
}

func (s *Store) CreateRuleSet(ctx context.Context, ruleSet *domain.RuleSet) error {
	return s.write(func(st *state) error { return st.createRuleSet(ruleSet) })
}
func (s *Store) GetRuleSetByName(ctx context.Context, name string) (rs *domain.RuleSet, err error) {
	err = s.read(func(st *state) error { rs, err = st.getRuleSetByName(name); return err })
	return rs, err
}
func (s *Store) ListRuleSets(ctx context.Context) (rss []*domain.RuleSet, err error) {
	err = s.read(func(st *state) error { rss = st.listRuleSets(); return nil })
	return rss, err
}
func (s *Store) TouchRuleSet(ctx context.Context, id int64) error {
	return s.write(func(st *state) error { return st.touchRuleSet(id) })
}

func (s *Store) CreateRule(ctx context.Context, rule *domain.Rule) error {
	return s.write(func(st *state) error { return st.createRule(rule) })
}
func (s *Store) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	return s.write(func(st *state) error { return st.updateRule(rule) })
}
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	return s.write(func(st *state) error { return st.deleteRule(id) })
}
func (s *Store) ListRules(ctx context.Context, configurationID int64) (rules []*domain.Rule, err error) {
	err = s.read(func(st *state) error { rules = st.listRules(configurationID); return nil })
	return rules, err
}

func (s *Store) CreateCertificate(ctx context.Context, cert *domain.Certificate) error {
	return s.write(func(st *state) error { return st.createCertificate(cert) })
}
func (s *Store) GetCertificateByHash(ctx context.Context, mtHash string) (cert *domain.Certificate, err error) {
	err = s.read(func(st *state) error { cert, err = st.getCertificateByHash(mtHash); return err })
	return cert, err
}
func (s *Store) CreateFile(ctx context.Context, file *domain.File) error {
	return s.write(func(st *state) error { return st.createFile(file) })
}
func (s *Store) GetFileByHash(ctx context.Context, mtHash string) (file *domain.File, err error) {
	err = s.read(func(st *state) error { file, err = st.getFileByHash(mtHash); return err })
	return file, err
}
func (s *Store) CountFiles(ctx context.Context, sha256 string) (n int, err error) {
	err = s.read(func(st *state) error { n = st.countFiles(sha256); return nil })
	return n, err
}
func (s *Store) CountCertificates(ctx context.Context, sha256 string) (n int, err error) {
	err = s.read(func(st *state) error { n = st.countCertificates(sha256); return nil })
	return n, err
}
func (s *Store) CreateMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) error {
	return s.write(func(st *state) error { return st.createMachineSnapshot(snapshot) })
}
func (s *Store) GetMachineSnapshotByHash(ctx context.Context, mtHash string) (ms *domain.MachineSnapshot, err error) {
	err = s.read(func(st *state) error { ms, err = st.getMachineSnapshotByHash(mtHash); return err })
	return ms, err
}
func (s *Store) SetCurrentMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) (changed bool, err error) {
	err = s.write(func(st *state) error { changed = st.setCurrentMachineSnapshot(snapshot); return nil })
	return changed, err
}

func (s *Store) CreateEnrollmentSession(ctx context.Context, session *domain.EnrollmentSession) error {
	return s.write(func(st *state) error { return st.createEnrollmentSession(session) })
}
func (s *Store) GetEnrollmentSessionBySecret(ctx context.Context, secret string) (es *domain.EnrollmentSession, err error) {
	err = s.read(func(st *state) error { es, err = st.getEnrollmentSessionBySecret(secret); return err })
	return es, err
}
func (s *Store) DeleteEnrollmentSession(ctx context.Context, secret string) error {
	return s.write(func(st *state) error { return st.deleteEnrollmentSession(secret) })
}

// Forward all Tx methods to the transaction state
func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return t.st.createAPIKey(key)
}
func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return t.st.getAPIKeyByHash(keyHash)
}
func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return t.st.listAPIKeys(), nil
}
func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return t.st.deleteAPIKey(id)
}
func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return t.st.updateAPIKeyLastUsed(id)
}
func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return t.st.countAPIKeys(), nil
}
func (t *Tx) CreateConfiguration(ctx context.Context, cfg *domain.Configuration) error {
	return t.st.createConfiguration(cfg)
}
func (t *Tx) GetConfiguration(ctx context.Context, id int64) (*domain.Configuration, error) {
	return t.st.getConfiguration(id)
}
func (t *Tx) GetConfigurationByName(ctx context.Context, name string) (*domain.Configuration, error) {
	return t.st.getConfigurationByName(name)
}
func (t *Tx) ListConfigurations(ctx context.Context) ([]*domain.Configuration, error) {
	return t.st.listConfigurations(), nil
}
func (t *Tx) CreateTarget(ctx context.Context, target *domain.Target) error {
	return t.st.createTarget(target)
}
func (t *Tx) GetTarget(ctx context.Context, targetType domain.TargetType, identifier string) (*domain.Target, error) {
	return t.st.getTarget(targetType, identifier)
}
func (t *Tx) CreateRuleSet(ctx context.Context, ruleSet *domain.RuleSet) error {
	return t.st.createRuleSet(ruleSet)
}
func (t *Tx) GetRuleSetByName(ctx context.Context, name string) (*domain.RuleSet, error) {
	return t.st.getRuleSetByName(name)
}
func (t *Tx) ListRuleSets(ctx context.Context) ([]*domain.RuleSet, error) {
	return t.st.listRuleSets(), nil
}
func (t *Tx) TouchRuleSet(ctx context.Context, id int64) error {
	return t.st.touchRuleSet(id)
}
func (t *Tx) CreateRule(ctx context.Context, rule *domain.Rule) error {
	return t.st.createRule(rule)
}
func (t *Tx) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	return t.st.updateRule(rule)
}
func (t *Tx) DeleteRule(ctx context.Context, id int64) error {
	return t.st.deleteRule(id)
}
func (t *Tx) ListRules(ctx context.Context, configurationID int64) ([]*domain.Rule, error) {
	return t.st.listRules(configurationID), nil
}
func (t *Tx) CreateCertificate(ctx context.Context, cert *domain.Certificate) error {
	return t.st.createCertificate(cert)
}
func (t *Tx) GetCertificateByHash(ctx context.Context, mtHash string) (*domain.Certificate, error) {
	return t.st.getCertificateByHash(mtHash)
}
func (t *Tx) CreateFile(ctx context.Context, file *domain.File) error {
	return t.st.createFile(file)
}
func (t *Tx) GetFileByHash(ctx context.Context, mtHash string) (*domain.File, error) {
	return t.st.getFileByHash(mtHash)
}
func (t *Tx) CountFiles(ctx context.Context, sha256 string) (int, error) {
	return t.st.countFiles(sha256), nil
}
func (t *Tx) CountCertificates(ctx context.Context, sha256 string) (int, error) {
	return t.st.countCertificates(sha256), nil
}
func (t *Tx) CreateMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) error {
	return t.st.createMachineSnapshot(snapshot)
}
func (t *Tx) GetMachineSnapshotByHash(ctx context.Context, mtHash string) (*domain.MachineSnapshot, error) {
	return t.st.getMachineSnapshotByHash(mtHash)
}
func (t *Tx) SetCurrentMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) (bool, error) {
	return t.st.setCurrentMachineSnapshot(snapshot), nil
}
func (t *Tx) CreateEnrollmentSession(ctx context.Context, session *domain.EnrollmentSession) error {
	return t.st.createEnrollmentSession(session)
}
func (t *Tx) GetEnrollmentSessionBySecret(ctx context.Context, secret string) (*domain.EnrollmentSession, error) {
	return t.st.getEnrollmentSessionBySecret(secret)
}
func (t *Tx) DeleteEnrollmentSession(ctx context.Context, secret string) error {
	return t.st.deleteEnrollmentSession(secret)
}
