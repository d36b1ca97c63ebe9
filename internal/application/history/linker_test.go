package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobomo/C2/internal/application/port/porttest"
	"github.com/mobomo/C2/internal/domain/entity"
)

type mockLogger struct{ errors int }

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) { m.errors++ }

type recordingNotifier struct {
	failFor map[int64]bool
	calls   []int64
}

func (r *recordingNotifier) NotifyApprover(ctx context.Context, p *entity.Proposal, s *entity.Step) error {
	if r.failFor[s.UserID] {
		return errors.New("smtp down")
	}
	r.calls = append(r.calls, s.UserID)
	return nil
}

func seedRejected(t *testing.T, store *porttest.Store) (*entity.Proposal, map[string]int64) {
	t.Helper()
	ctx := context.Background()
	prior := &entity.Proposal{Name: "CART1", Status: entity.ProposalStatusRejected, Flow: entity.FlowLinear}
	require.NoError(t, store.Proposals().Create(ctx, prior))

	users := map[string]int64{}
	add := func(email, role, status string, pos int) {
		u, err := store.Users().FindOrCreateByEmail(ctx, email)
		require.NoError(t, err)
		users[email] = u.ID
		require.NoError(t, store.Steps().Create(ctx, &entity.Step{ProposalID: prior.ID, UserID: u.ID, Role: role, Status: status, Position: pos, Active: true}))
	}
	add("req@example.gov", entity.RoleRequester, "", 0)
	add("bob@example.gov", entity.RoleApprover, entity.StepStatusRejected, 1)
	add("alice@example.gov", entity.RoleApprover, entity.StepStatusApproved, 0)
	add("olga@example.gov", entity.RoleObserver, "", 0)
	return prior, users
}

func TestLinker_LinkCopiesApproversOnly(t *testing.T) {
	ctx := context.Background()
	store := porttest.NewStore()
	prior, users := seedRejected(t, store)

	next := &entity.Proposal{Name: "CART1", Status: entity.ProposalStatusPending, Flow: entity.FlowLinear}
	require.NoError(t, store.Proposals().Create(ctx, next))

	l := NewLinker(store.Steps(), &recordingNotifier{}, &mockLogger{})
	copied, err := l.Link(ctx, prior, next)
	require.NoError(t, err)
	require.Len(t, copied, 2)

	steps, err := store.Steps().ListByProposal(ctx, next.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, users["alice@example.gov"], steps[0].UserID)
	assert.Equal(t, entity.StepStatusActionable, steps[0].Status)
	assert.Equal(t, users["bob@example.gov"], steps[1].UserID)
	assert.Equal(t, entity.StepStatusPending, steps[1].Status)
	for _, s := range steps {
		assert.Equal(t, entity.RoleApprover, s.Role)
		assert.Nil(t, s.CompletedAt)
	}

	priorSteps, err := store.Steps().ListByProposal(ctx, prior.ID)
	require.NoError(t, err)
	assert.Len(t, priorSteps, 4, "prior ledger untouched")
}

func TestLinker_LinkSkipsNonRejected(t *testing.T) {
	ctx := context.Background()
	store := porttest.NewStore()
	l := NewLinker(store.Steps(), &recordingNotifier{}, &mockLogger{})
	next := &entity.Proposal{ID: 50, Flow: entity.FlowParallel}

	for _, prior := range []*entity.Proposal{
		nil,
		{ID: 1, Status: entity.ProposalStatusApproved},
		{ID: 2, Status: entity.ProposalStatusPending},
	} {
		copied, err := l.Link(ctx, prior, next)
		require.NoError(t, err)
		assert.Empty(t, copied)
	}
}

func TestLinker_NotifyCopied(t *testing.T) {
	notifier := &recordingNotifier{failFor: map[int64]bool{2: true}}
	logger := &mockLogger{}
	l := NewLinker(nil, notifier, logger)

	notified := l.NotifyCopied(context.Background(), &entity.Proposal{ID: 1}, []*entity.Step{
		{ID: 10, UserID: 1}, {ID: 11, UserID: 2}, {ID: 12, UserID: 3},
	})

	assert.Equal(t, []int64{1, 3}, notified)
	assert.Equal(t, []int64{1, 3}, notifier.calls)
	assert.Equal(t, 1, logger.errors)
}
