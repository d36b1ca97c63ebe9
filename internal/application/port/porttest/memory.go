// Package porttest provides in-memory implementations of the application ports for tests.
package porttest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
)

// Store holds every in-memory table behind one mutex
type Store struct {
	mu sync.Mutex

	nextID    int64
	clock     time.Time
	proposals map[int64]*entity.Proposal
	steps     map[int64]*entity.Step
	comments  map[int64]*entity.Comment
	users     map[int64]*entity.User
	groups    map[string]*entity.ApprovalGroup
	tokens    map[int64]*entity.AccessToken

	Messages []*entity.Message
	// FailEnqueueFor makes Enqueue fail for these recipients
	FailEnqueueFor map[string]bool
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		clock:          time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		proposals:      map[int64]*entity.Proposal{},
		steps:          map[int64]*entity.Step{},
		comments:       map[int64]*entity.Comment{},
		users:          map[int64]*entity.User{},
		groups:         map[string]*entity.ApprovalGroup{},
		tokens:         map[int64]*entity.AccessToken{},
		FailEnqueueFor: map[string]bool{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// tick advances the fake clock so creation order is observable
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// Now returns the store clock
func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// MessagesFor returns the messages queued for a recipient
func (s *Store) MessagesFor(email string) []*entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Message
	for _, m := range s.Messages {
		if m.Recipient == email {
			out = append(out, m)
		}
	}
	return out
}

// ResetMessages clears recorded messages
func (s *Store) ResetMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = nil
}

// Proposals returns the proposal repository view
func (s *Store) Proposals() port.ProposalRepository { return proposalRepo{s} }

// Steps returns the step repository view
func (s *Store) Steps() port.StepRepository { return stepRepo{s} }

// Comments returns the comment repository view
func (s *Store) Comments() port.CommentRepository { return commentRepo{s} }

// Users returns the user repository view
func (s *Store) Users() port.UserRepository { return userRepo{s} }

// Groups returns the approval group repository view
func (s *Store) Groups() port.ApprovalGroupRepository { return groupRepo{s} }

// Tokens returns the access token repository view
func (s *Store) Tokens() port.AccessTokenRepository { return tokenRepo{s} }

// Mailer returns a recording mailer
func (s *Store) Mailer() port.Mailer { return mailer{s} }

// Tx runs functions directly
type Tx struct{}

// WithTransaction implements port.TransactionManager
func (Tx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Locker is a no-op lock that counts acquisitions
type Locker struct {
	mu    sync.Mutex
	Count map[string]int
}

// Lock implements port.Locker
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Count == nil {
		l.Count = map[string]int{}
	}
	l.Count[key]++
	return func() {}, nil
}

// Issuer mints predictable credentials
type Issuer struct {
	mu  sync.Mutex
	n   int
	TTL time.Duration
	Now func() time.Time
}

// Issue implements port.CredentialIssuer
func (i *Issuer) Issue(proposalID, stepID, userID int64) (*port.Credential, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
	now := time.Now()
	if i.Now != nil {
		now = i.Now()
	}
	ttl := i.TTL
	if ttl == 0 {
		ttl = entity.AccessTokenTTL
	}
	jti := fmt.Sprintf("jti-%d", i.n)
	return &port.Credential{
		Token:     fmt.Sprintf("token|%s|%d|%d|%d", jti, proposalID, stepID, userID),
		JTI:       jti,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Verify implements port.CredentialIssuer
func (i *Issuer) Verify(token string) (*port.CredentialClaims, error) {
	var jti string
	var p, st, u int64
	parts := strings.Split(token, "|")
	if len(parts) != 5 || parts[0] != "token" {
		return nil, fmt.Errorf("malformed token")
	}
	jti = parts[1]
	if _, err := fmt.Sscanf(strings.Join(parts[2:], " "), "%d %d %d", &p, &st, &u); err != nil {
		return nil, err
	}
	return &port.CredentialClaims{JTI: jti, ProposalID: p, StepID: st, UserID: u}, nil
}

type proposalRepo struct{ s *Store }

func (r proposalRepo) Create(ctx context.Context, p *entity.Proposal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = r.s.id()
	now := r.s.tick()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.s.proposals[p.ID] = &cp
	return nil
}

func (r proposalRepo) GetByID(ctx context.Context, id int64) (*entity.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.proposals[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r proposalRepo) FindLatestByName(ctx context.Context, name, status string) (*entity.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *entity.Proposal
	for _, p := range r.s.proposals {
		if p.Name != name || (status != "" && p.Status != status) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID > best.ID) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r proposalRepo) update(id int64, fn func(p *entity.Proposal)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %d not found", id)
	}
	fn(p)
	p.UpdatedAt = r.s.tick()
	return nil
}

func (r proposalRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.update(id, func(p *entity.Proposal) { p.Status = status })
}

func (r proposalRepo) UpdateFlow(ctx context.Context, id int64, flow string) error {
	return r.update(id, func(p *entity.Proposal) { p.Flow = flow })
}

func (r proposalRepo) UpdateClientData(ctx context.Context, id int64, clientType, data string) error {
	return r.update(id, func(p *entity.Proposal) { p.ClientDataType, p.ClientData = clientType, data })
}

func (r proposalRepo) List(ctx context.Context, status string, limit, offset int) ([]*entity.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Proposal
	for _, p := range r.s.proposals {
		if status == "" || p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type stepRepo struct{ s *Store }

func (r stepRepo) Create(ctx context.Context, step *entity.Step) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	step.ID = r.s.id()
	now := r.s.tick()
	step.CreatedAt, step.UpdatedAt = now, now
	if u, ok := r.s.users[step.UserID]; ok {
		step.UserEmail = u.Email
	}
	r.s.steps[step.ID] = step.Clone()
	return nil
}

func (r stepRepo) GetByID(ctx context.Context, id int64) (*entity.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.steps[id]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (r stepRepo) ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Step
	for _, st := range r.s.steps {
		if st.ProposalID == proposalID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r stepRepo) UpdateStatus(ctx context.Context, id int64, status string, completedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.steps[id]
	if !ok {
		return fmt.Errorf("step %d not found", id)
	}
	st.Status = status
	st.CompletedAt = completedAt
	st.UpdatedAt = r.s.tick()
	return nil
}

func (r stepRepo) SetActive(ctx context.Context, id int64, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.steps[id]
	if !ok {
		return fmt.Errorf("step %d not found", id)
	}
	st.Active = active
	return nil
}

func (r stepRepo) DeleteByProposal(ctx context.Context, proposalID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, st := range r.s.steps {
		if st.ProposalID == proposalID {
			delete(r.s.steps, id)
		}
	}
	return nil
}

type commentRepo struct{ s *Store }

func (r commentRepo) Create(ctx context.Context, c *entity.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = r.s.id()
	now := r.s.tick()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.s.comments[c.ID] = &cp
	return nil
}

func (r commentRepo) GetByID(ctx context.Context, id int64) (*entity.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.comments[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r commentRepo) ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Comment
	for _, c := range r.s.comments {
		if c.ProposalID == proposalID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r commentRepo) DeleteByProposal(ctx context.Context, proposalID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, c := range r.s.comments {
		if c.ProposalID == proposalID {
			delete(r.s.comments, id)
		}
	}
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) FindOrCreateByEmail(ctx context.Context, email string) (*entity.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	u := &entity.User{ID: r.s.id(), Email: email, CreatedAt: r.s.tick()}
	r.s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r userRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

type groupRepo struct{ s *Store }

func (r groupRepo) GetByName(ctx context.Context, name string) (*entity.ApprovalGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[name]
	if !ok {
		return nil, nil
	}
	cp := *g
	cp.Members = append([]entity.ApprovalGroupMember(nil), g.Members...)
	return &cp, nil
}

func (r groupRepo) Upsert(ctx context.Context, g *entity.ApprovalGroup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.groups[g.Name]; ok {
		g.ID = existing.ID
	} else {
		g.ID = r.s.id()
	}
	cp := *g
	cp.Members = append([]entity.ApprovalGroupMember(nil), g.Members...)
	r.s.groups[g.Name] = &cp
	return nil
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(ctx context.Context, t *entity.AccessToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = r.s.id()
	cp := *t
	r.s.tokens[t.ID] = &cp
	return nil
}

func (r tokenRepo) GetByJTI(ctx context.Context, jti string) (*entity.AccessToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.JTI == jti {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r tokenRepo) FindLive(ctx context.Context, stepID int64, now time.Time) (*entity.AccessToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.StepID == stepID && t.IsLive(now) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r tokenRepo) MarkUsed(ctx context.Context, id int64, usedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[id]
	if !ok {
		return fmt.Errorf("token %d not found", id)
	}
	t.UsedAt = &usedAt
	return nil
}

func (r tokenRepo) DeleteByProposal(ctx context.Context, proposalID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.tokens {
		if t.ProposalID == proposalID {
			delete(r.s.tokens, id)
		}
	}
	return nil
}

type mailer struct{ s *Store }

func (m mailer) Enqueue(ctx context.Context, msg *entity.Message) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.FailEnqueueFor[msg.Recipient] {
		return fmt.Errorf("mail queue unavailable")
	}
	m.s.Messages = append(m.s.Messages, msg)
	return nil
}

var (
	_ port.TransactionManager = Tx{}
	_ port.Locker             = (*Locker)(nil)
	_ port.CredentialIssuer   = (*Issuer)(nil)
)
