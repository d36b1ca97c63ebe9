package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/service"
	"github.com/mobomo/C2/internal/domain/entity"
)

const groups = `
groups:
  - name: facilities
    flow: linear
    approvers: [lead@example.com, finance@example.com]
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "groups.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(groups), 0o600))

	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "c2.db")
	cfg.Credential.Secret = "container-test-secret-0123"
	cfg.Worker.PollInterval = 10 * time.Millisecond
	cfg.ApprovalGroupsFile = seedPath
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), zap.NewNop())
	assert.ErrorContains(t, err, "credential.secret")
}

func TestContainer_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx))

	view, err := c.Proposals().Submit(ctx, service.SubmitInput{
		Name: "CART-100",
		Roles: service.RoleSpec{
			RequesterEmail: "requester@example.com",
			ApprovalGroup:  "facilities",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.FlowLinear, view.Proposal.Flow)
	require.Len(t, view.ActionableIDs, 1)

	// requester confirmation plus the first approver, both delivered by the worker
	assert.Eventually(t, func() bool {
		rows, err := c.repositories.Notifications.ListByProposal(ctx, view.Proposal.ID)
		if err != nil || len(rows) < 2 {
			return false
		}
		for _, n := range rows {
			if n.Status != entity.NotificationStatusSent {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	health := c.Health(ctx)
	assert.True(t, health.Overall)
	assert.Equal(t, "breaker closed", health.Components["mail"].Message)
	assert.NotNil(t, c.MetricsHandler())

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestContainer_StartFailureTearsDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.ApprovalGroupsFile = filepath.Join(t.TempDir(), "missing.yaml")

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	assert.ErrorContains(t, err, "approval groups")
	assert.False(t, c.Ready())
	assert.Nil(t, c.db)
}
