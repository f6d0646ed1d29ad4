package authgate

import (
	"context"
	"fmt"

	"github.com/oarkflow/authgate/logger"
)

// RuleService manages the authorization rule set. Every mutation recompiles
// the path matcher where needed, bumps the shared ruleset version so cached
// rule lists and decisions expire immediately, and records an outbox event.
type RuleService struct {
	rules  RuleStore
	cache  Cache
	outbox *OutboxService
	log    logger.Logger
}

// RuleServiceOption configures a RuleService.
type RuleServiceOption func(*RuleService)

// WithRuleLogger installs a logger.
func WithRuleLogger(l logger.Logger) RuleServiceOption {
	return func(s *RuleService) { s.log = l }
}

// WithRuleOutbox records rule mutations as outbox events.
func WithRuleOutbox(o *OutboxService) RuleServiceOption {
	return func(s *RuleService) { s.outbox = o }
}

// NewRuleService builds a RuleService. cache may be nil (no versioned
// caching, e.g. in tests).
func NewRuleService(rules RuleStore, cache Cache, opts ...RuleServiceOption) *RuleService {
	s := &RuleService{rules: rules, cache: cache, log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates, compiles and persists a rule. When methods lists more
// than one method, one rule is created per method and the last one is
// returned.
func (s *RuleService) Create(ctx context.Context, rule Rule, methods ...string) (*Rule, error) {
	if len(methods) == 0 {
		methods = []string{rule.Method}
	}
	var created *Rule
	for _, m := range methods {
		r := rule
		r.ID = 0
		r.Method = m
		if err := r.Compile(); err != nil {
			return nil, err
		}
		if err := s.rules.CreateRule(ctx, &r); err != nil {
			return nil, fmt.Errorf("create rule: %w", err)
		}
		created = &r
	}
	s.afterMutation(ctx, SubjectRuleCreated, created)
	return created, nil
}

// Update applies changes to an existing rule, recompiling the matcher when
// the path pattern changed and clearing it when a route name took over.
func (s *RuleService) Update(ctx context.Context, id int64, apply func(*Rule)) (*Rule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(rule)
	if err := rule.Compile(); err != nil {
		return nil, err
	}
	if err := s.rules.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("update rule %d: %w", id, err)
	}
	s.afterMutation(ctx, SubjectRuleUpdated, rule)
	return rule, nil
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, id int64) error {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	s.afterMutation(ctx, SubjectRuleDeleted, rule)
	return nil
}

// Toggle flips a rule's active flag.
func (s *RuleService) Toggle(ctx context.Context, id int64) (*Rule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.IsActive = !rule.IsActive
	if err := s.rules.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("toggle rule %d: %w", id, err)
	}
	s.afterMutation(ctx, SubjectRuleToggled, rule)
	return rule, nil
}

// List returns rules matching the filter.
func (s *RuleService) List(ctx context.Context, filter RuleFilter) ([]*Rule, error) {
	return s.rules.ListRules(ctx, filter)
}

// Services returns the distinct service names that have rules.
func (s *RuleService) Services(ctx context.Context) ([]string, error) {
	return s.rules.ListServices(ctx)
}

// TestResult reports what a path pattern compiles to and whether it matches
// a sample path, so operators can try rules before saving them.
type TestResult struct {
	PathDSL  string `json:"path_dsl"`
	Regex    string `json:"regex,omitempty"`
	TestPath string `json:"test_path"`
	Matches  bool   `json:"matches"`
	Error    string `json:"error,omitempty"`
}

// TestRule compiles a pattern and matches it against a sample path without
// touching the store.
func (s *RuleService) TestRule(pathDSL, testPath string) TestResult {
	res := TestResult{PathDSL: pathDSL, TestPath: testPath}
	m, err := CompilePathDSL(pathDSL)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if m == nil {
		res.Error = "empty pattern"
		return res
	}
	res.Regex = m.Regex()
	res.Matches = m.Matches(testPath)
	return res
}

// afterMutation bumps the ruleset version and records the outbox event. A
// failed bump is logged loudly: until the TTL expires, other instances may
// serve decisions against the previous rule set.
func (s *RuleService) afterMutation(ctx context.Context, subject string, rule *Rule) {
	if s.cache != nil {
		if v, err := BumpRulesVersion(ctx, s.cache); err != nil {
			s.log.Error("bump ruleset version", "error", err.Error())
		} else {
			s.log.Info("ruleset version bumped", "version", int(v), "subject", subject)
		}
	}
	if s.outbox != nil && rule != nil {
		s.outbox.Record(ctx, subject, map[string]any{
			"rule_id":  rule.ID,
			"service":  rule.Service,
			"method":   rule.Method,
			"priority": rule.Priority,
			"active":   rule.IsActive,
		})
	}
}
