package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/clientdata"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/event"
	"github.com/mobomo/C2/internal/domain/workflow"
	"github.com/mobomo/C2/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// EventPublisher hands committed events to listeners. The service publishes
// while it still holds the proposal lock, so listeners observe exactly the
// state the event describes and events of one proposal arrive in commit order.
type EventPublisher interface {
	Dispatch(ctx context.Context, evt *event.Event) error
}

// HistoryLinker carries approvers forward from a rejected proposal
type HistoryLinker interface {
	Link(ctx context.Context, prior, next *entity.Proposal) ([]*entity.Step, error)
	NotifyCopied(ctx context.Context, proposal *entity.Proposal, copied []*entity.Step) []int64
}

// ProposalService manages the proposal lifecycle
type ProposalService interface {
	Submit(ctx context.Context, in SubmitInput) (*ProposalView, error)
	FindOrCreate(ctx context.Context, name string) (*entity.Proposal, error)
	Initialize(ctx context.Context, proposalID int64, flow string, roles RoleSpec) error
	RecordAction(ctx context.Context, stepID int64, status string, actorID int64) (TransitionKind, error)
	RecordActionWithToken(ctx context.Context, token, status string) (TransitionKind, error)
	Restart(ctx context.Context, proposalID, modifierID int64) error
	UpdateClientData(ctx context.Context, proposalID, modifierID int64, clientType string, raw []byte) error
	AddComment(ctx context.Context, proposalID, userID int64, body string) (*entity.Comment, error)
	AddObserver(ctx context.Context, proposalID int64, email string) (*entity.Step, error)
	SetObserverActive(ctx context.Context, proposalID, stepID int64, active bool) error
	Get(ctx context.Context, id int64) (*ProposalView, error)
	List(ctx context.Context, status string, limit, offset int) ([]*entity.Proposal, error)
	ResolveUser(ctx context.Context, email string) (*entity.User, error)
}

// Repositories groups the stores the proposal service reads and writes
type Repositories struct {
	Proposals port.ProposalRepository
	Steps     port.StepRepository
	Comments  port.CommentRepository
	Users     port.UserRepository
	Groups    port.ApprovalGroupRepository
	Tokens    port.AccessTokenRepository
}

type proposalServiceImpl struct {
	repos     Repositories
	txManager port.TransactionManager
	locker    port.Locker
	issuer    port.CredentialIssuer
	linker    HistoryLinker
	registry  *clientdata.Registry
	publisher EventPublisher
	logger    Logger
	now       func() time.Time
}

// NewProposalService creates a new ProposalService
func NewProposalService(
	repos Repositories,
	txManager port.TransactionManager,
	locker port.Locker,
	issuer port.CredentialIssuer,
	linker HistoryLinker,
	registry *clientdata.Registry,
	publisher EventPublisher,
	logger Logger,
) ProposalService {
	return &proposalServiceImpl{
		repos:     repos,
		txManager: txManager,
		locker:    locker,
		issuer:    issuer,
		linker:    linker,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit validates a submission, finds or creates the proposal under its name,
// builds the ledger and announces it.
func (s *proposalServiceImpl) Submit(ctx context.Context, in SubmitInput) (*ProposalView, error) {
	name := strings.TrimSpace(in.Name)
	v := &clientdata.ValidationError{}
	if name == "" {
		v.Add("name", "is required")
	}
	if in.Roles.RequesterEmail == "" {
		v.Add("requester_email", "is required")
	}
	validateRoles(v, in.Roles)
	if _, err := workflow.ParseFlow(in.Flow); err != nil {
		v.Add("flow", "must be linear or parallel")
	}

	var encoded string
	if in.ClientDataType != "" {
		data, err := s.decodeClientData(in.ClientDataType, in.ClientData)
		if err != nil {
			return nil, err
		}
		if encoded, err = clientdata.Encode(data); err != nil {
			return nil, err
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	announce := func(ctx context.Context, p *entity.Proposal, prenotified []int64) {
		s.publish(ctx, event.NewEvent(event.TypeProposalCreated, p.ID, 0, map[string]interface{}{
			event.KeyPrenotified: prenotified,
		}))
	}
	proposal, err := s.findOrCreate(ctx, name, func(ctx context.Context, p *entity.Proposal) error {
		if encoded != "" {
			if err := s.repos.Proposals.UpdateClientData(ctx, p.ID, in.ClientDataType, encoded); err != nil {
				return fmt.Errorf("store client data: %w", err)
			}
			p.ClientDataType, p.ClientData = in.ClientDataType, encoded
		}
		if err := s.initialize(ctx, p, in.Flow, in.Roles); err != nil {
			return err
		}
		if body := utils.SanitizeString(strings.TrimSpace(in.InitialComment)); body != "" {
			requester, err := s.repos.Users.FindOrCreateByEmail(ctx, utils.NormalizeEmail(in.Roles.RequesterEmail))
			if err != nil {
				return fmt.Errorf("resolve requester: %w", err)
			}
			if err := s.repos.Comments.Create(ctx, &entity.Comment{ProposalID: p.ID, UserID: requester.ID, Body: body}); err != nil {
				return fmt.Errorf("create initial comment: %w", err)
			}
		}
		return nil
	}, announce)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Proposal submitted", "proposal_id", proposal.ID, "name", proposal.Name, "flow", proposal.Flow)
	return s.Get(ctx, proposal.ID)
}

// FindOrCreate returns a pending proposal under name after resetting it, or a
// new one. A new proposal inherits the approvers of a rejected predecessor and
// those approvers are notified right away.
func (s *proposalServiceImpl) FindOrCreate(ctx context.Context, name string) (*entity.Proposal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		v := &clientdata.ValidationError{}
		v.Add("name", "is required")
		return nil, v
	}
	return s.findOrCreate(ctx, name, nil, nil)
}

// Initialize builds the ledger of an existing pending proposal and announces it.
// A proposal that is decided, or whose approvers have started deciding, is
// refused with ErrAlreadyDecided.
func (s *proposalServiceImpl) Initialize(ctx context.Context, proposalID int64, flow string, roles RoleSpec) error {
	v := &clientdata.ValidationError{}
	validateRoles(v, roles)
	if err := v.OrNil(); err != nil {
		return err
	}

	return s.withLock(ctx, proposalLockKey(proposalID), func() error {
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			p, err := s.loadProposal(txCtx, proposalID)
			if err != nil {
				return err
			}
			if err := s.ensureUndecided(txCtx, p); err != nil {
				return err
			}
			return s.initialize(txCtx, p, flow, roles)
		})
		if err != nil {
			return err
		}
		s.publish(ctx, event.NewEvent(event.TypeProposalCreated, proposalID, 0, nil))
		return nil
	})
}

func (s *proposalServiceImpl) ensureUndecided(ctx context.Context, p *entity.Proposal) error {
	if p.Status != entity.ProposalStatusPending {
		return fmt.Errorf("%w: proposal %d is %s", ErrAlreadyDecided, p.ID, p.Status)
	}
	ledger, err := s.repos.Steps.ListByProposal(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load steps of proposal %d: %w", p.ID, err)
	}
	for _, st := range workflow.Approvers(ledger) {
		if st.IsDecided() {
			return fmt.Errorf("%w: step %d of proposal %d is %s", ErrAlreadyDecided, st.ID, p.ID, st.Status)
		}
	}
	return nil
}

// findOrCreate runs the lookup under the name lock and one transaction, calls
// then with the proposal inside that transaction, and after commit, still under
// the proposal lock, notifies carried-forward approvers and calls announce with
// the users they cover.
func (s *proposalServiceImpl) findOrCreate(
	ctx context.Context,
	name string,
	then func(ctx context.Context, p *entity.Proposal) error,
	announce func(ctx context.Context, p *entity.Proposal, prenotified []int64),
) (*entity.Proposal, error) {
	var proposal *entity.Proposal
	var copied []*entity.Step

	settle := func() error {
		var notified []int64
		if len(copied) > 0 {
			notified = s.linker.NotifyCopied(ctx, proposal, copied)
		}
		if announce != nil {
			announce(ctx, proposal, notified)
		}
		return nil
	}

	err := s.withLock(ctx, nameLockKey(name), func() error {
		pending, err := s.repos.Proposals.FindLatestByName(ctx, name, entity.ProposalStatusPending)
		if err != nil {
			return fmt.Errorf("find pending proposal %q: %w", name, err)
		}

		run := func() error {
			return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
				var err error
				if pending != nil {
					if err = s.reset(txCtx, pending); err != nil {
						return err
					}
					proposal = pending
				} else if proposal, copied, err = s.createLinked(txCtx, name); err != nil {
					return err
				}
				if then != nil {
					return then(txCtx, proposal)
				}
				return nil
			})
		}

		if pending == nil {
			if err := run(); err != nil {
				return err
			}
			return s.withLock(ctx, proposalLockKey(proposal.ID), settle)
		}
		return s.withLock(ctx, proposalLockKey(pending.ID), func() error {
			if err := run(); err != nil {
				return err
			}
			return settle()
		})
	})
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

func (s *proposalServiceImpl) createLinked(ctx context.Context, name string) (*entity.Proposal, []*entity.Step, error) {
	prior, err := s.repos.Proposals.FindLatestByName(ctx, name, "")
	if err != nil {
		return nil, nil, fmt.Errorf("find prior proposal %q: %w", name, err)
	}

	p := &entity.Proposal{
		Name:   name,
		Status: entity.ProposalStatusPending,
		Flow:   entity.FlowParallel,
	}
	if prior != nil && prior.Flow != "" {
		p.Flow = prior.Flow
	}
	if err := s.repos.Proposals.Create(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("create proposal %q: %w", name, err)
	}

	copied, err := s.linker.Link(ctx, prior, p)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Proposal created", "proposal_id", p.ID, "name", name, "carried_approvers", len(copied))
	return p, copied, nil
}

// reset destroys the ledger, comments and credentials of a pending proposal so
// it can be rebuilt from a new submission.
func (s *proposalServiceImpl) reset(ctx context.Context, p *entity.Proposal) error {
	if err := s.repos.Steps.DeleteByProposal(ctx, p.ID); err != nil {
		return fmt.Errorf("reset steps of proposal %d: %w", p.ID, err)
	}
	if err := s.repos.Comments.DeleteByProposal(ctx, p.ID); err != nil {
		return fmt.Errorf("reset comments of proposal %d: %w", p.ID, err)
	}
	if err := s.repos.Tokens.DeleteByProposal(ctx, p.ID); err != nil {
		return fmt.Errorf("reset credentials of proposal %d: %w", p.ID, err)
	}
	if err := s.repos.Proposals.UpdateFlow(ctx, p.ID, ""); err != nil {
		return fmt.Errorf("reset flow of proposal %d: %w", p.ID, err)
	}
	p.Flow = ""

	s.logger.Info("Pending proposal reset for resubmission", "proposal_id", p.ID, "name", p.Name)
	return nil
}

// initialize adds requester, approvers and observers to the ledger, then sets
// the flow and the initial actionable steps. Nothing is written when the ledger
// would end up without approvers.
func (s *proposalServiceImpl) initialize(ctx context.Context, p *entity.Proposal, flowInput string, roles RoleSpec) error {
	var group *entity.ApprovalGroup
	if roles.ApprovalGroup != "" {
		g, err := s.repos.Groups.GetByName(ctx, roles.ApprovalGroup)
		if err != nil {
			return fmt.Errorf("load approval group %q: %w", roles.ApprovalGroup, err)
		}
		if g == nil {
			return fmt.Errorf("%w: %q", ErrUnknownApprovalGroup, roles.ApprovalGroup)
		}
		group = g
	}

	if flowInput == "" && group != nil {
		flowInput = group.Flow
	}
	flow, err := workflow.ParseFlow(flowInput)
	if err != nil {
		return err
	}

	existing, err := s.repos.Steps.ListByProposal(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load steps of proposal %d: %w", p.ID, err)
	}
	hasRequester := false
	seenApprover := map[int64]bool{}
	seenObserver := map[int64]bool{}
	nextPos := 0
	for _, st := range existing {
		switch st.Role {
		case entity.RoleRequester:
			hasRequester = true
		case entity.RoleApprover:
			seenApprover[st.UserID] = true
			if st.Position >= nextPos {
				nextPos = st.Position + 1
			}
		case entity.RoleObserver:
			seenObserver[st.UserID] = true
		}
	}

	approvers, err := s.resolveApprovers(ctx, group, roles.ApproverEmails)
	if err != nil {
		return err
	}
	var newApprovers []*entity.User
	for _, u := range approvers {
		if !seenApprover[u.ID] {
			seenApprover[u.ID] = true
			newApprovers = append(newApprovers, u)
		}
	}
	if len(seenApprover) == 0 {
		return fmt.Errorf("%w: proposal %d", ErrMissingApprovalGroup, p.ID)
	}

	if roles.RequesterEmail != "" && !hasRequester {
		requester, err := s.repos.Users.FindOrCreateByEmail(ctx, utils.NormalizeEmail(roles.RequesterEmail))
		if err != nil {
			return fmt.Errorf("resolve requester: %w", err)
		}
		if err := s.addStep(ctx, p.ID, requester, entity.RoleRequester, 0); err != nil {
			return err
		}
	}

	for _, u := range newApprovers {
		if err := s.addStep(ctx, p.ID, u, entity.RoleApprover, nextPos); err != nil {
			return err
		}
		nextPos++
	}

	observers, err := s.resolveObservers(ctx, group, roles.ObserverEmails)
	if err != nil {
		return err
	}
	for _, u := range observers {
		if seenObserver[u.ID] {
			continue
		}
		seenObserver[u.ID] = true
		if err := s.addStep(ctx, p.ID, u, entity.RoleObserver, 0); err != nil {
			return err
		}
	}

	if err := s.repos.Proposals.UpdateFlow(ctx, p.ID, flow.String()); err != nil {
		return fmt.Errorf("set flow of proposal %d: %w", p.ID, err)
	}
	p.Flow = flow.String()

	ledger, err := s.repos.Steps.ListByProposal(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("reload steps of proposal %d: %w", p.ID, err)
	}
	before := statuses(ledger)
	workflow.ResetApprovers(ledger, flow)
	return s.persistStatusChanges(ctx, ledger, before)
}

func (s *proposalServiceImpl) resolveApprovers(ctx context.Context, group *entity.ApprovalGroup, emails []string) ([]*entity.User, error) {
	var users []*entity.User
	if group != nil {
		members := group.Approvers()
		sortMembers(members)
		for _, m := range members {
			u, err := s.resolveMember(ctx, m)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
		return users, nil
	}

	for _, email := range emails {
		email = utils.NormalizeEmail(email)
		if email == "" {
			continue
		}
		u, err := s.repos.Users.FindOrCreateByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("resolve approver %s: %w", email, err)
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *proposalServiceImpl) resolveObservers(ctx context.Context, group *entity.ApprovalGroup, emails []string) ([]*entity.User, error) {
	var users []*entity.User
	if group != nil {
		for _, m := range group.Observers() {
			u, err := s.resolveMember(ctx, m)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
	}
	for _, email := range emails {
		email = utils.NormalizeEmail(email)
		if email == "" {
			continue
		}
		u, err := s.repos.Users.FindOrCreateByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("resolve observer %s: %w", email, err)
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *proposalServiceImpl) resolveMember(ctx context.Context, m entity.ApprovalGroupMember) (*entity.User, error) {
	if m.UserID != 0 {
		u, err := s.repos.Users.GetByID(ctx, m.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve group member %d: %w", m.UserID, err)
		}
		if u != nil {
			return u, nil
		}
	}
	u, err := s.repos.Users.FindOrCreateByEmail(ctx, utils.NormalizeEmail(m.Email))
	if err != nil {
		return nil, fmt.Errorf("resolve group member %s: %w", m.Email, err)
	}
	return u, nil
}

func (s *proposalServiceImpl) addStep(ctx context.Context, proposalID int64, u *entity.User, role string, position int) error {
	step := &entity.Step{
		ProposalID: proposalID,
		UserID:     u.ID,
		UserEmail:  u.Email,
		Role:       role,
		Position:   position,
		Active:     role == entity.RoleObserver,
	}
	if role == entity.RoleApprover {
		step.Status = entity.StepStatusPending
	}
	if err := s.repos.Steps.Create(ctx, step); err != nil {
		return fmt.Errorf("add %s %s to proposal %d: %w", strings.ToLower(role), u.Email, proposalID, err)
	}
	return nil
}

// Get returns a proposal with its ledger and comments
func (s *proposalServiceImpl) Get(ctx context.Context, id int64) (*ProposalView, error) {
	p, err := s.loadProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.repos.Steps.ListByProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load steps of proposal %d: %w", id, err)
	}
	comments, err := s.repos.Comments.ListByProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load comments of proposal %d: %w", id, err)
	}

	view := &ProposalView{Proposal: p, Steps: steps, Comments: comments, ActionableIDs: []int64{}}
	for _, st := range workflow.ActionableSteps(steps, workflow.Flow(p.Flow)) {
		view.ActionableIDs = append(view.ActionableIDs, st.ID)
	}
	if p.ClientDataType != "" {
		if data, err := s.registry.Decode(p.ClientDataType, []byte(p.ClientData)); err == nil {
			view.DisplayName = data.DisplayName()
			view.TotalPrice = data.TotalPrice()
		}
	}
	return view, nil
}

// List returns proposals, newest first
func (s *proposalServiceImpl) List(ctx context.Context, status string, limit, offset int) ([]*entity.Proposal, error) {
	proposals, err := s.repos.Proposals.List(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

// ResolveUser finds or creates the user behind an email address
func (s *proposalServiceImpl) ResolveUser(ctx context.Context, email string) (*entity.User, error) {
	email = utils.NormalizeEmail(email)
	if err := utils.ValidateEmail(email); err != nil {
		v := &clientdata.ValidationError{}
		v.Add("email", "is not a valid address")
		return nil, v
	}
	return s.repos.Users.FindOrCreateByEmail(ctx, email)
}

func (s *proposalServiceImpl) loadProposal(ctx context.Context, id int64) (*entity.Proposal, error) {
	p, err := s.repos.Proposals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}
	return p, nil
}

func (s *proposalServiceImpl) decodeClientData(clientType string, raw []byte) (clientdata.ClientData, error) {
	data, err := s.registry.Decode(clientType, raw)
	if err != nil {
		var v *clientdata.ValidationError
		if errors.As(err, &v) {
			return nil, v
		}
		v = &clientdata.ValidationError{}
		v.Add("client_data_type", "is not supported")
		return nil, v
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *proposalServiceImpl) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer unlock()
	return fn()
}

// publish must be called after commit with the proposal lock held. Listener
// failures are logged; the committed change stands.
func (s *proposalServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Dispatch(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", evt.Type,
			"proposal_id", evt.ProposalID,
			"error", err,
		)
	}
}

func validateRoles(v *clientdata.ValidationError, roles RoleSpec) {
	if roles.RequesterEmail != "" {
		if err := utils.ValidateEmail(utils.NormalizeEmail(roles.RequesterEmail)); err != nil {
			v.Add("requester_email", "is not a valid address")
		}
	}
	hasApproverEmails := false
	for _, e := range roles.ApproverEmails {
		if e = utils.NormalizeEmail(e); e == "" {
			continue
		}
		hasApproverEmails = true
		if err := utils.ValidateEmail(e); err != nil {
			v.Add("approver_emails", fmt.Sprintf("contains an invalid address: %s", e))
		}
	}
	for _, e := range roles.ObserverEmails {
		if e = utils.NormalizeEmail(e); e == "" {
			continue
		}
		if err := utils.ValidateEmail(e); err != nil {
			v.Add("observer_emails", fmt.Sprintf("contains an invalid address: %s", e))
		}
	}
	if hasApproverEmails && roles.ApprovalGroup != "" {
		v.Add("approval_group", "cannot be combined with approver emails")
	}
}

func proposalLockKey(id int64) string {
	return fmt.Sprintf("proposal:%d", id)
}

func nameLockKey(name string) string {
	return "proposal-name:" + name
}
