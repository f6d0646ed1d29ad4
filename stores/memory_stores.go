package stores

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/authgate"
)

// MemoryRuleStore implements rule persistence in-memory for testing/demo.
type MemoryRuleStore struct {
	mu     sync.RWMutex
	nextID int64
	rules  map[int64]*authgate.Rule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[int64]*authgate.Rule)}
}

func (s *MemoryRuleStore) CreateRule(_ context.Context, r *authgate.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	cop := *r
	s.rules[r.ID] = &cop
	return nil
}

func (s *MemoryRuleStore) UpdateRule(_ context.Context, r *authgate.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return authgate.ErrNotFound
	}
	r.UpdatedAt = time.Now()
	cop := *r
	s.rules[r.ID] = &cop
	return nil
}

func (s *MemoryRuleStore) DeleteRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return authgate.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryRuleStore) GetRule(_ context.Context, id int64) (*authgate.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, authgate.ErrNotFound
	}
	cop := *r
	return &cop, nil
}

func (s *MemoryRuleStore) ListRules(_ context.Context, filter authgate.RuleFilter) ([]*authgate.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authgate.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if filter.Service != "" && r.Service != filter.Service {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(r.Service), needle) &&
				!strings.Contains(strings.ToLower(r.PathDSL), needle) &&
				!strings.Contains(strings.ToLower(r.RouteName), needle) {
				continue
			}
		}
		cop := *r
		out = append(out, &cop)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	out = paginateRules(out, filter.Limit, filter.Offset)
	return out, nil
}

func paginateRules(rules []*authgate.Rule, limit, offset int) []*authgate.Rule {
	if limit <= 0 {
		return rules
	}
	if offset >= len(rules) {
		return nil
	}
	end := offset + limit
	if end > len(rules) {
		end = len(rules)
	}
	return rules[offset:end]
}

func (s *MemoryRuleStore) ListServices(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, r := range s.rules {
		if !seen[r.Service] {
			seen[r.Service] = true
			out = append(out, r.Service)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryRuleStore) FindActiveRules(_ context.Context, service, method string) ([]*authgate.Rule, error) {
	method = authgate.NormalizeMethod(method)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authgate.Rule, 0)
	for _, r := range s.rules {
		if !r.IsActive || r.Service != service {
			continue
		}
		if r.Method != method && r.Method != authgate.MethodAny {
			continue
		}
		cop := *r
		out = append(out, &cop)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MemoryRoleStore implements role lookup in-memory for testing/demo.
type MemoryRoleStore struct {
	mu     sync.RWMutex
	nextID int64
	roles  map[int64]*authgate.Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[int64]*authgate.Role)}
}

func (s *MemoryRoleStore) CreateRole(_ context.Context, r *authgate.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.nextID++
		r.ID = s.nextID
	} else if r.ID > s.nextID {
		s.nextID = r.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cop := *r
	s.roles[r.ID] = &cop
	return nil
}

func (s *MemoryRoleStore) GetRole(_ context.Context, id int64) (*authgate.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, authgate.ErrNotFound
	}
	cop := *r
	return &cop, nil
}

func (s *MemoryRoleStore) GetRolesByIDs(_ context.Context, ids []int64) ([]*authgate.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authgate.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			cop := *r
			out = append(out, &cop)
		}
	}
	return out, nil
}

// MemoryHierarchyStore implements hierarchy-edge persistence in-memory.
type MemoryHierarchyStore struct {
	mu     sync.RWMutex
	nextID int64
	edges  []*authgate.HierarchyEdge
}

func NewMemoryHierarchyStore() *MemoryHierarchyStore {
	return &MemoryHierarchyStore{}
}

func (s *MemoryHierarchyStore) AddEdge(_ context.Context, e *authgate.HierarchyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cop := *e
	s.edges = append(s.edges, &cop)
	return nil
}

func (s *MemoryHierarchyStore) RemoveEdge(_ context.Context, higher, lower, storeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.edges {
		if e.HigherRoleID == higher && e.LowerRoleID == lower && e.StoreID == storeID {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryHierarchyStore) ListActiveEdges(_ context.Context, storeID int64) ([]*authgate.HierarchyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authgate.HierarchyEdge, 0)
	for _, e := range s.edges {
		if !e.IsActive {
			continue
		}
		if storeID > 0 && e.StoreID != storeID {
			continue
		}
		cop := *e
		out = append(out, &cop)
	}
	return out, nil
}

func (s *MemoryHierarchyStore) EdgeExists(_ context.Context, higher, lower, storeID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.edges {
		if e.HigherRoleID == higher && e.LowerRoleID == lower && e.StoreID == storeID {
			return true, nil
		}
	}
	return false, nil
}

// MemoryAssignmentStore implements assignments and store records in-memory.
type MemoryAssignmentStore struct {
	mu          sync.RWMutex
	nextID      int64
	nextStoreID int64
	assignments []*authgate.Assignment
	stores      map[int64]*authgate.StoreRecord
}

func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{stores: make(map[int64]*authgate.StoreRecord)}
}

func (s *MemoryAssignmentStore) Assign(_ context.Context, a *authgate.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.assignments {
		if cur.UserID == a.UserID && cur.RoleID == a.RoleID && cur.StoreID == a.StoreID {
			cur.IsActive = a.IsActive
			cur.Metadata = a.Metadata
			a.ID = cur.ID
			return nil
		}
	}
	s.nextID++
	a.ID = s.nextID
	cop := *a
	s.assignments = append(s.assignments, &cop)
	return nil
}

func (s *MemoryAssignmentStore) Remove(_ context.Context, userID, roleID, storeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.StoreID == storeID {
			s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryAssignmentStore) Toggle(_ context.Context, userID, roleID, storeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.StoreID == storeID {
			a.IsActive = !a.IsActive
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryAssignmentStore) ListByUser(_ context.Context, userID int64, storeID int64) ([]*authgate.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authgate.Assignment, 0)
	for _, a := range s.assignments {
		if a.UserID != userID {
			continue
		}
		if storeID > 0 && a.StoreID != storeID {
			continue
		}
		cop := *a
		out = append(out, &cop)
	}
	return out, nil
}

func (s *MemoryAssignmentStore) ListByStore(_ context.Context, storeID int64, roleID int64) ([]*authgate.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authgate.Assignment, 0)
	for _, a := range s.assignments {
		if a.StoreID != storeID {
			continue
		}
		if roleID > 0 && a.RoleID != roleID {
			continue
		}
		cop := *a
		out = append(out, &cop)
	}
	return out, nil
}

func (s *MemoryAssignmentStore) DirectRoleIDs(_ context.Context, userID, storeID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]bool)
	out := make([]int64, 0)
	for _, a := range s.assignments {
		if a.UserID == userID && a.StoreID == storeID && a.IsActive && !seen[a.RoleID] {
			seen[a.RoleID] = true
			out = append(out, a.RoleID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryAssignmentStore) AssignedStoreIDs(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]bool)
	out := make([]int64, 0)
	for _, a := range s.assignments {
		if a.UserID == userID && a.IsActive && !seen[a.StoreID] {
			seen[a.StoreID] = true
			out = append(out, a.StoreID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryAssignmentStore) ActiveStoreIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0)
	for id, rec := range s.stores {
		if rec.IsActive {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryAssignmentStore) StoreExists(_ context.Context, storeID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[storeID]
	return ok, nil
}

func (s *MemoryAssignmentStore) CreateStore(_ context.Context, rec *authgate.StoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		s.nextStoreID++
		rec.ID = s.nextStoreID
	} else if rec.ID > s.nextStoreID {
		s.nextStoreID = rec.ID
	}
	cop := *rec
	s.stores[rec.ID] = &cop
	return nil
}

// MemoryOutboxStore implements the event outbox in-memory.
type MemoryOutboxStore struct {
	mu     sync.Mutex
	nextID int64
	events []*authgate.OutboxEvent
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{}
}

func (s *MemoryOutboxStore) Record(_ context.Context, e *authgate.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cop := *e
	s.events = append(s.events, &cop)
	return nil
}

func (s *MemoryOutboxStore) ListPending(_ context.Context, limit int) ([]*authgate.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]*authgate.OutboxEvent, 0)
	for _, e := range s.events {
		if !e.PublishedAt.IsZero() {
			continue
		}
		cop := *e
		out = append(out, &cop)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryOutboxStore) MarkPublished(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			e.PublishedAt = time.Now()
			return nil
		}
	}
	return authgate.ErrNotFound
}

// MemoryCache is a minimal map-backed cache for tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var v int64
	if e, ok := c.entries[key]; ok {
		v, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	v++
	c.entries[key] = memoryEntry{value: []byte(strconv.FormatInt(v, 10))}
	return v, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
