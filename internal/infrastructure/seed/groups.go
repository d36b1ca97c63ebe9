// Package seed loads approval group templates from YAML into the database.
package seed

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/workflow"
	"github.com/mobomo/C2/pkg/utils"
)

// GroupFile is the on-disk shape of an approval group seed file
type GroupFile struct {
	Groups []GroupSpec `yaml:"groups"`
}

// GroupSpec declares one group. Approvers are listed in approval order.
type GroupSpec struct {
	Name      string   `yaml:"name"`
	Flow      string   `yaml:"flow"`
	Approvers []string `yaml:"approvers"`
	Observers []string `yaml:"observers"`
}

// LoadGroupFile reads and validates a seed file
func LoadGroupFile(path string) (*GroupFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read approval groups: %w", err)
	}
	return ParseGroupFile(data)
}

// ParseGroupFile decodes and validates seed YAML
func ParseGroupFile(data []byte) (*GroupFile, error) {
	var f GroupFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode approval groups: %w", err)
	}

	seen := make(map[string]bool, len(f.Groups))
	for i := range f.Groups {
		g := &f.Groups[i]
		if g.Name == "" {
			return nil, fmt.Errorf("approval group %d has no name", i)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("approval group %q declared twice", g.Name)
		}
		seen[g.Name] = true

		flow, err := workflow.ParseFlow(g.Flow)
		if err != nil {
			return nil, fmt.Errorf("approval group %q: %w", g.Name, err)
		}
		g.Flow = flow.String()

		if len(g.Approvers) == 0 {
			return nil, fmt.Errorf("approval group %q has no approvers", g.Name)
		}
		for _, email := range append(append([]string{}, g.Approvers...), g.Observers...) {
			if err := utils.ValidateEmail(email); err != nil {
				return nil, fmt.Errorf("approval group %q: %w", g.Name, err)
			}
		}
	}
	return &f, nil
}

// Loader writes seed groups through the repositories
type Loader struct {
	users  port.UserRepository
	groups port.ApprovalGroupRepository
	logger *zap.Logger
}

// NewLoader creates a Loader
func NewLoader(users port.UserRepository, groups port.ApprovalGroupRepository, logger *zap.Logger) *Loader {
	return &Loader{users: users, groups: groups, logger: logger}
}

// Apply upserts every group in f. Re-applying a file replaces member lists.
func (l *Loader) Apply(ctx context.Context, f *GroupFile) error {
	for _, spec := range f.Groups {
		g := &entity.ApprovalGroup{Name: spec.Name, Flow: spec.Flow}

		position := 0
		add := func(email, role string) error {
			u, err := l.users.FindOrCreateByEmail(ctx, utils.NormalizeEmail(email))
			if err != nil {
				return err
			}
			position++
			g.Members = append(g.Members, entity.ApprovalGroupMember{
				UserID:   u.ID,
				Email:    u.Email,
				Role:     role,
				Position: position,
			})
			return nil
		}

		for _, email := range spec.Approvers {
			if err := add(email, entity.RoleApprover); err != nil {
				return fmt.Errorf("approval group %q: %w", spec.Name, err)
			}
		}
		for _, email := range spec.Observers {
			if err := add(email, entity.RoleObserver); err != nil {
				return fmt.Errorf("approval group %q: %w", spec.Name, err)
			}
		}

		if err := l.groups.Upsert(ctx, g); err != nil {
			return err
		}
		l.logger.Info("Approval group loaded",
			zap.String("name", g.Name),
			zap.String("flow", g.Flow),
			zap.Int("members", len(g.Members)))
	}
	return nil
}

// LoadFile reads path and applies it
func (l *Loader) LoadFile(ctx context.Context, path string) error {
	f, err := LoadGroupFile(path)
	if err != nil {
		return err
	}
	return l.Apply(ctx, f)
}
