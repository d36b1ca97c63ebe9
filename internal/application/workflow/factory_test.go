package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainwf "github.com/mobomo/C2/internal/domain/workflow"
)

func TestTransition(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		from    domainwf.State
		to      domainwf.State
		wantErr error
	}{
		{"pending to approved", domainwf.StatePending, domainwf.StateApproved, nil},
		{"pending to rejected", domainwf.StatePending, domainwf.StateRejected, nil},
		{"no change", domainwf.StateApproved, domainwf.StateApproved, nil},
		{"approved to rejected", domainwf.StateApproved, domainwf.StateRejected, domainwf.ErrInvalidTransition},
		{"rejected to approved", domainwf.StateRejected, domainwf.StateApproved, domainwf.ErrInvalidTransition},
		{"rejected back to pending", domainwf.StateRejected, domainwf.StatePending, nil},
		{"unknown target", domainwf.StatePending, domainwf.State("X"), domainwf.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(ctx, tt.from, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestRestart(t *testing.T) {
	for _, s := range []domainwf.State{domainwf.StatePending, domainwf.StateApproved, domainwf.StateRejected} {
		got, err := Restart(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StatePending, got)
	}
}

func TestBuildProposalStateMachine_PermittedTriggers(t *testing.T) {
	m := BuildProposalStateMachine(domainwf.StateApproved)
	assert.True(t, m.CanFire(domainwf.TriggerRestart))
	assert.False(t, m.CanFire(domainwf.TriggerApprove))
	assert.Len(t, BuildProposalStateMachine(domainwf.StatePending).PermittedTriggers(), 3)
}
