// Package authtest provides in-memory stores for the auth packages' tests.
//
// All stores created by one NewWorld share state under a single mutex, so a
// consumed login token updates the identity's last login just as the Postgres
// transaction does.
package authtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"agron/cmd/identity"
	"agron/cmd/internal/audit"
	"agron/cmd/internal/auth/magiclink"
	"agron/cmd/internal/auth/rbac"
	"agron/cmd/internal/auth/session"
)

type state struct {
	mu sync.Mutex

	seq       int
	users     map[string]identity.User
	byEmail   map[string]string
	links     map[string]magiclink.Token
	sessions  map[string]session.Row
	roles     map[string][]string
	roleOrder []string
	assigned  map[string]map[string]struct{}
}

// World bundles the in-memory stores.
type World struct {
	Users    *Users
	Links    *Links
	Sessions *Sessions
	RBAC     *RBAC
	Audit    *Audit
	Mail     *Mail
	Clock    *Clock
}

// NewWorld returns empty stores with the default Learner role defined.
func NewWorld() *World {
	st := &state{
		users:    map[string]identity.User{},
		byEmail:  map[string]string{},
		links:    map[string]magiclink.Token{},
		sessions: map[string]session.Row{},
		roles:    map[string][]string{},
		assigned: map[string]map[string]struct{}{},
	}
	w := &World{
		Users:    &Users{st: st},
		Links:    &Links{st: st},
		Sessions: &Sessions{st: st},
		RBAC:     &RBAC{st: st},
		Audit:    &Audit{},
		Mail:     &Mail{},
		Clock:    NewClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
	}
	w.RBAC.DefineRole(identity.DefaultRole, "course:read", "session:read", "sim:execute")
	return w
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Users implements identity.Directory.
type Users struct {
	st *state
	// Err, when set, is returned by every call.
	Err error
}

var _ identity.Directory = (*Users)(nil)

func (u *Users) FindOrCreate(ctx context.Context, email string, now time.Time) (identity.User, bool, error) {
	if u.Err != nil {
		return identity.User{}, false, u.Err
	}
	st := u.st
	st.mu.Lock()
	defer st.mu.Unlock()

	email = identity.NormalizeEmail(email)
	if id, ok := st.byEmail[email]; ok {
		return st.users[id], false, nil
	}
	st.seq++
	usr := identity.User{
		ID:        fmt.Sprintf("user-%04d", st.seq),
		Email:     email,
		Role:      identity.DefaultRole,
		CreatedAt: now,
	}
	st.users[usr.ID] = usr
	st.byEmail[email] = usr.ID
	if _, ok := st.roles[identity.DefaultRole]; ok {
		st.assign(usr.ID, identity.DefaultRole)
	}
	return usr, true, nil
}

func (u *Users) FindByID(ctx context.Context, id string) (identity.User, error) {
	if u.Err != nil {
		return identity.User{}, u.Err
	}
	u.st.mu.Lock()
	defer u.st.mu.Unlock()
	usr, ok := u.st.users[id]
	if !ok {
		return identity.User{}, identity.NotFoundError{Op: "identity.FindByID", Resource: "user"}
	}
	return usr, nil
}

func (u *Users) FindByEmail(ctx context.Context, email string) (identity.User, error) {
	if u.Err != nil {
		return identity.User{}, u.Err
	}
	u.st.mu.Lock()
	defer u.st.mu.Unlock()
	id, ok := u.st.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return identity.User{}, identity.NotFoundError{Op: "identity.FindByEmail", Resource: "user"}
	}
	return u.st.users[id], nil
}

// Add inserts an identity directly and assigns roles.
func (u *Users) Add(email string, roles ...string) identity.User {
	usr, _, err := u.FindOrCreate(context.Background(), email, time.Now().UTC())
	if err != nil {
		panic(err)
	}
	u.st.mu.Lock()
	defer u.st.mu.Unlock()
	if len(roles) > 0 {
		delete(u.st.assigned, usr.ID)
		for _, r := range roles {
			u.st.assign(usr.ID, r)
		}
		usr.Role = roles[0]
		u.st.users[usr.ID] = usr
	}
	return usr
}

// Delete removes an identity (its tokens and sessions stay, as if orphaned).
func (u *Users) Delete(id string) {
	u.st.mu.Lock()
	defer u.st.mu.Unlock()
	if usr, ok := u.st.users[id]; ok {
		delete(u.st.byEmail, usr.Email)
	}
	delete(u.st.users, id)
	delete(u.st.assigned, id)
}

// Count returns the number of identities.
func (u *Users) Count() int {
	u.st.mu.Lock()
	defer u.st.mu.Unlock()
	return len(u.st.users)
}

// Links implements magiclink.Store.
type Links struct {
	st  *state
	Err error
}

var _ magiclink.Store = (*Links)(nil)

func (l *Links) Create(ctx context.Context, t magiclink.Token) error {
	if l.Err != nil {
		return l.Err
	}
	l.st.mu.Lock()
	defer l.st.mu.Unlock()
	l.st.links[t.ID] = t
	return nil
}

func (l *Links) Consume(ctx context.Context, userID, tokenHash string, now time.Time) error {
	if l.Err != nil {
		return l.Err
	}
	st := l.st
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, t := range st.links {
		if t.UserID != userID || t.TokenHash != tokenHash || t.UsedAt != nil || !t.ExpiresAt.After(now) {
			continue
		}
		used := now
		t.UsedAt = &used
		st.links[id] = t
		if usr, ok := st.users[userID]; ok {
			at := now
			usr.LastLoginAt = &at
			st.users[userID] = usr
		}
		return nil
	}
	return magiclink.ErrTokenNotActive
}

func (l *Links) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	l.st.mu.Lock()
	defer l.st.mu.Unlock()
	var n int64
	for id, t := range l.st.links {
		if !t.ExpiresAt.After(now) {
			delete(l.st.links, id)
			n++
		}
	}
	return n, nil
}

// ForUser returns the stored tokens of userID ordered by creation.
func (l *Links) ForUser(userID string) []magiclink.Token {
	l.st.mu.Lock()
	defer l.st.mu.Unlock()
	var out []magiclink.Token
	for _, t := range l.st.links {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sessions implements session.Store.
type Sessions struct {
	st  *state
	Err error
	// DeleteErr, when set, is returned by DeleteByHash only.
	DeleteErr error
}

var _ session.Store = (*Sessions)(nil)

func (s *Sessions) Create(ctx context.Context, row session.Row) error {
	if s.Err != nil {
		return s.Err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.sessions[row.TokenHash] = row
	return nil
}

func (s *Sessions) Rotate(ctx context.Context, oldHash string, now time.Time, next session.Row) (session.Row, error) {
	if s.Err != nil {
		return session.Row{}, s.Err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	old, ok := s.st.sessions[oldHash]
	if !ok || !old.ExpiresAt.After(now) {
		return session.Row{}, session.ErrSessionNotFound
	}
	delete(s.st.sessions, oldHash)
	next.UserID = old.UserID
	s.st.sessions[next.TokenHash] = next
	return next, nil
}

func (s *Sessions) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	if s.DeleteErr != nil {
		return false, s.DeleteErr
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	_, ok := s.st.sessions[hash]
	delete(s.st.sessions, hash)
	return ok, nil
}

func (s *Sessions) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var n int64
	for h, row := range s.st.sessions {
		if !row.ExpiresAt.After(now) {
			delete(s.st.sessions, h)
			n++
		}
	}
	return n, nil
}

// All returns every stored session row.
func (s *Sessions) All() []session.Row {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]session.Row, 0, len(s.st.sessions))
	for _, row := range s.st.sessions {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RBAC implements rbac.Store.
type RBAC struct {
	st  *state
	Err error
}

var _ rbac.Store = (*RBAC)(nil)

// DefineRole creates or replaces a role's grants.
func (r *RBAC) DefineRole(name string, permissions ...string) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.roles[name]; !ok {
		r.st.roleOrder = append(r.st.roleOrder, name)
	}
	r.st.roles[name] = append([]string(nil), permissions...)
}

func (st *state) assign(userID, role string) {
	m := st.assigned[userID]
	if m == nil {
		m = map[string]struct{}{}
		st.assigned[userID] = m
	}
	m[role] = struct{}{}
}

func (r *RBAC) LoadContext(ctx context.Context, userID string) (rbac.Context, error) {
	if r.Err != nil {
		return rbac.Context{}, r.Err
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.users[userID]; !ok {
		return rbac.Context{}, rbac.ErrNotFound
	}
	var roles, perms []string
	for role := range r.st.assigned[userID] {
		roles = append(roles, role)
		perms = append(perms, r.st.roles[role]...)
	}
	return rbac.NewContext(userID, roles, perms), nil
}

func (r *RBAC) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := make([]rbac.Role, 0, len(r.st.roleOrder))
	for _, name := range r.st.roleOrder {
		perms := append([]string{}, r.st.roles[name]...)
		sort.Strings(perms)
		out = append(out, rbac.Role{ID: "role-" + name, Name: name, IsSystem: true, Permissions: perms})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *RBAC) AssignRole(ctx context.Context, userID, role string, now time.Time) error {
	if r.Err != nil {
		return r.Err
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.roles[role]; !ok {
		return rbac.ErrUnknownRole
	}
	if _, ok := r.st.users[userID]; !ok {
		return rbac.ErrNotFound
	}
	r.st.assign(userID, role)
	return nil
}

func (r *RBAC) RevokeRole(ctx context.Context, userID, role string) error {
	if r.Err != nil {
		return r.Err
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.assigned[userID], role)
	return nil
}

// Audit implements audit.Store by keeping events in memory.
type Audit struct {
	mu     sync.Mutex
	events []audit.Event
}

var _ audit.Store = (*Audit)(nil)

func (a *Audit) Record(ctx context.Context, ev audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *Audit) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []audit.Entry{}
	for i := len(a.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := a.events[i]
		e := audit.Entry{ID: int64(i + 1), Action: ev.Action, Resource: ev.Resource, Details: ev.Details}
		if ev.UserID != "" {
			uid := ev.UserID
			e.UserID = &uid
		}
		out = append(out, e)
	}
	return out, nil
}

// Events returns recorded events with the given action (all if action is empty).
func (a *Audit) Events(action string) []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Event
	for _, ev := range a.events {
		if action == "" || ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

// Message is one captured email.
type Message struct {
	To  string
	URL string
}

// Mail implements email.Sender by capturing messages.
type Mail struct {
	mu   sync.Mutex
	sent []Message
	// Err, when set, is returned by Send after the message is captured.
	Err error
}

func (m *Mail) Send(ctx context.Context, to, verifyURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Message{To: to, URL: verifyURL})
	return m.Err
}

func (m *Mail) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// ErrStoreDown is a convenient injected failure.
var ErrStoreDown = errors.New("authtest: store down")
