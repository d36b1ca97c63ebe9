package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/infrastructure/persistence/sqlite"
	"github.com/mobomo/C2/migrations"
	"github.com/mobomo/C2/pkg/database"
)

func newTestDB(t *testing.T) (*sql.DB, *sqlite.DB) {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "c2.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Run(migrations.FS)
	require.NoError(t, err)

	return db.DB, sqlite.NewDB(db.DB, logger)
}

func seedProposal(t *testing.T, db *sql.DB, name, status string) *entity.Proposal {
	t.Helper()
	p := &entity.Proposal{Name: name, Status: status, Flow: entity.FlowLinear}
	require.NoError(t, NewProposalRepository(db, zap.NewNop()).Create(context.Background(), p))
	return p
}

func seedUser(t *testing.T, db *sql.DB, email string) *entity.User {
	t.Helper()
	u, err := NewUserRepository(db, zap.NewNop()).FindOrCreateByEmail(context.Background(), email)
	require.NoError(t, err)
	return u
}

func TestProposalRepository_FindLatestByName(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewProposalRepository(db, zap.NewNop())

	got, err := repo.FindLatestByName(ctx, "CART1", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	first := seedProposal(t, db, "CART1", entity.ProposalStatusRejected)
	second := seedProposal(t, db, "CART1", entity.ProposalStatusApproved)
	seedProposal(t, db, "CART2", entity.ProposalStatusPending)

	got, err = repo.FindLatestByName(ctx, "CART1", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	got, err = repo.FindLatestByName(ctx, "CART1", entity.ProposalStatusRejected)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	got, err = repo.FindLatestByName(ctx, "CART1", entity.ProposalStatusPending)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProposalRepository_Updates(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewProposalRepository(db, zap.NewNop())
	p := seedProposal(t, db, "CART1", entity.ProposalStatusPending)

	require.NoError(t, repo.UpdateStatus(ctx, p.ID, entity.ProposalStatusApproved))
	require.NoError(t, repo.UpdateFlow(ctx, p.ID, entity.FlowParallel))
	require.NoError(t, repo.UpdateClientData(ctx, p.ID, "procurement", `{"quantity":1}`))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ProposalStatusApproved, got.Status)
	assert.Equal(t, entity.FlowParallel, got.Flow)
	assert.Equal(t, "procurement", got.ClientDataType)
	assert.JSONEq(t, `{"quantity":1}`, got.ClientData)

	assert.Error(t, repo.UpdateStatus(ctx, 9999, entity.ProposalStatusApproved))

	missing, err := repo.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProposalRepository_List(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewProposalRepository(db, zap.NewNop())
	a := seedProposal(t, db, "CART1", entity.ProposalStatusPending)
	b := seedProposal(t, db, "CART2", entity.ProposalStatusApproved)
	c := seedProposal(t, db, "CART3", entity.ProposalStatusPending)

	all, err := repo.List(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{c.ID, b.ID, a.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	pending, err := repo.List(ctx, entity.ProposalStatusPending, 1, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func TestStepRepository_Ledger(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewStepRepository(db, zap.NewNop())
	p := seedProposal(t, db, "CART1", entity.ProposalStatusPending)
	alice := seedUser(t, db, "alice@example.gov")
	bob := seedUser(t, db, "bob@example.gov")

	second := &entity.Step{ProposalID: p.ID, UserID: bob.ID, Role: entity.RoleApprover, Status: entity.StepStatusPending, Position: 1}
	first := &entity.Step{ProposalID: p.ID, UserID: alice.ID, Role: entity.RoleApprover, Status: entity.StepStatusActionable, Position: 0}
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))
	assert.Equal(t, "alice@example.gov", first.UserEmail)

	steps, err := repo.ListByProposal(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, first.ID, steps[0].ID)
	assert.Equal(t, "bob@example.gov", steps[1].UserEmail)

	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateStatus(ctx, first.ID, entity.StepStatusApproved, &done))
	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StepStatusApproved, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, entity.StepStatusPending, nil))
	got, err = repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, repo.SetActive(ctx, second.ID, true))
	got, err = repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)

	require.NoError(t, repo.DeleteByProposal(ctx, p.ID))
	steps, err = repo.ListByProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestCommentRepository(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewCommentRepository(db, zap.NewNop())
	p := seedProposal(t, db, "CART1", entity.ProposalStatusPending)
	alice := seedUser(t, db, "alice@example.gov")

	require.NoError(t, repo.Create(ctx, &entity.Comment{ProposalID: p.ID, UserID: alice.ID, Body: "first"}))
	update := &entity.Comment{ProposalID: p.ID, UserID: alice.ID, Body: "edited", UpdateComment: true}
	require.NoError(t, repo.Create(ctx, update))

	comments, err := repo.ListByProposal(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body)
	assert.True(t, comments[1].UpdateComment)

	got, err := repo.GetByID(ctx, update.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Body)

	require.NoError(t, repo.DeleteByProposal(ctx, p.ID))
	comments, err = repo.ListByProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestUserRepository_FindOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	a, err := repo.FindOrCreateByEmail(ctx, "Alice@Example.gov ")
	require.NoError(t, err)
	b, err := repo.FindOrCreateByEmail(ctx, "alice@example.gov")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "alice@example.gov", b.Email)

	byID, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Email, byID.Email)

	none, err := repo.FindByEmail(ctx, "nobody@example.gov")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.FindOrCreateByEmail(ctx, "  ")
	assert.Error(t, err)
}

func TestApprovalGroupRepository_UpsertReplacesMembers(t *testing.T) {
	ctx := context.Background()
	db, tx := newTestDB(t)
	repo := NewApprovalGroupRepository(db, tx, zap.NewNop())

	g := &entity.ApprovalGroup{
		Name: "finance",
		Flow: entity.FlowLinear,
		Members: []entity.ApprovalGroupMember{
			{Email: "bob@example.gov", Role: entity.RoleApprover, Position: 1},
			{Email: "alice@example.gov", Role: entity.RoleApprover, Position: 0},
		},
	}
	require.NoError(t, repo.Upsert(ctx, g))
	firstID := g.ID

	got, err := repo.GetByName(ctx, "finance")
	require.NoError(t, err)
	require.Len(t, got.Members, 2)
	assert.Equal(t, "alice@example.gov", got.Members[0].Email)

	g.Flow = entity.FlowParallel
	g.Members = []entity.ApprovalGroupMember{{Email: "carol@example.gov", Role: entity.RoleObserver}}
	require.NoError(t, repo.Upsert(ctx, g))
	assert.Equal(t, firstID, g.ID)

	got, err = repo.GetByName(ctx, "finance")
	require.NoError(t, err)
	assert.Equal(t, entity.FlowParallel, got.Flow)
	require.Len(t, got.Members, 1)
	assert.Equal(t, entity.RoleObserver, got.Members[0].Role)

	none, err := repo.GetByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAccessTokenRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewAccessTokenRepository(db, zap.NewNop())
	p := seedProposal(t, db, "CART1", entity.ProposalStatusPending)

	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	expired := &entity.AccessToken{JTI: "old", ProposalID: p.ID, StepID: 7, UserID: 3, ExpiresAt: base.Add(-time.Hour)}
	live := &entity.AccessToken{JTI: "new", ProposalID: p.ID, StepID: 7, UserID: 3, ExpiresAt: base.Add(entity.AccessTokenTTL)}
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, live))

	found, err := repo.FindLive(ctx, 7, base)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "new", found.JTI)

	require.NoError(t, repo.MarkUsed(ctx, live.ID, base))
	assert.Error(t, repo.MarkUsed(ctx, live.ID, base), "a credential is spent once")

	found, err = repo.FindLive(ctx, 7, base)
	require.NoError(t, err)
	assert.Nil(t, found)

	byJTI, err := repo.GetByJTI(ctx, "new")
	require.NoError(t, err)
	require.NotNil(t, byJTI.UsedAt)
	assert.False(t, byJTI.IsLive(base))

	require.NoError(t, repo.DeleteByProposal(ctx, p.ID))
	byJTI, err = repo.GetByJTI(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, byJTI)
}

func TestNotificationRepository_Outbox(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	repo := NewNotificationRepository(db, zap.NewNop())

	a := &entity.Notification{ProposalID: 1, Recipient: "a@example.gov", Kind: entity.MessageActionsForApprover, Token: "tok"}
	b := &entity.Notification{ProposalID: 1, Recipient: "b@example.gov", Kind: entity.MessageCommentAdded}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))
	assert.Equal(t, entity.NotificationStatusPending, a.Status)

	pending, err := repo.GetPending(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "tok", pending[0].Token)
	assert.Equal(t, "{}", pending[1].Context)

	require.NoError(t, repo.MarkSent(ctx, a.ID, time.Now()))
	require.NoError(t, repo.MarkFailed(ctx, b.ID, "smtp down"))

	pending, err = repo.GetPending(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "smtp down", pending[0].ErrorMessage)

	require.NoError(t, repo.MarkFailed(ctx, b.ID, "smtp still down"))
	pending, err = repo.GetPending(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "rows past max attempts are parked")

	sent, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.NotificationStatusSent, sent.Status)
	assert.NotNil(t, sent.SentAt)

	all, err := repo.ListByProposal(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTransaction_RollbackAndNesting(t *testing.T) {
	ctx := context.Background()
	db, tx := newTestDB(t)
	repo := NewProposalRepository(db, zap.NewNop())

	boom := errors.New("boom")
	var createdID int64
	err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
		p := &entity.Proposal{Name: "CART1", Status: entity.ProposalStatusPending}
		if err := repo.Create(txCtx, p); err != nil {
			return err
		}
		createdID = p.ID
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, createdID)
	require.NoError(t, err)
	assert.Nil(t, got, "rolled back insert must not be visible")

	err = tx.WithTransaction(ctx, func(outer context.Context) error {
		return tx.WithTransaction(outer, func(inner context.Context) error {
			assert.Same(t, sqlite.TxFromContext(outer), sqlite.TxFromContext(inner))
			return repo.Create(inner, &entity.Proposal{Name: "CART2", Status: entity.ProposalStatusPending})
		})
	})
	require.NoError(t, err)

	found, err := repo.FindLatestByName(ctx, "CART2", "")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestMigrator_RunIsRepeatable(t *testing.T) {
	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "m.db"), MaxOpenConns: 2}, logger)
	require.NoError(t, err)
	defer db.Close()

	m := database.NewMigrator(db, logger)
	applied, err := m.Run(migrations.FS)
	require.NoError(t, err)
	assert.Positive(t, applied)

	applied, err = m.Run(migrations.FS)
	require.NoError(t, err)
	assert.Zero(t, applied)
}
