package project

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"samay/internal/apperr"
	"samay/internal/logger"
	"samay/internal/storage"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
	maxIconLength        = 50
)

type CreateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// UpdateInput changes only the fields that are set
type UpdateInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
}

type AddUsersInput struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

type Service struct {
	store *storage.Storage
}

func NewService(st *storage.Storage) *Service {
	return &Service{store: st}
}

func notFound() error {
	return apperr.NotFound("PROJECT_NOT_FOUND", "Project not found")
}

func checkLength(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min {
		return apperr.Validation(fmt.Sprintf("Project %s is required", field))
	}
	if n > max {
		return apperr.Validation(fmt.Sprintf("Project %s must be less than %d characters", field, max))
	}
	return nil
}

func (in *CreateInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Icon = strings.TrimSpace(in.Icon)
	if err := checkLength("name", in.Name, 1, maxNameLength); err != nil {
		return err
	}
	if err := checkLength("description", in.Description, 0, maxDescriptionLength); err != nil {
		return err
	}
	return checkLength("icon", in.Icon, 1, maxIconLength)
}

func (in UpdateInput) fields() (map[string]any, error) {
	fields := make(map[string]any)
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := checkLength("name", name, 1, maxNameLength); err != nil {
			return nil, err
		}
		fields["name"] = name
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if err := checkLength("description", desc, 0, maxDescriptionLength); err != nil {
			return nil, err
		}
		fields["description"] = desc
	}
	if in.Icon != nil {
		icon := strings.TrimSpace(*in.Icon)
		if err := checkLength("icon", icon, 1, maxIconLength); err != nil {
			return nil, err
		}
		fields["icon"] = icon
	}
	return fields, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*storage.Project, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := &storage.Project{Name: in.Name, Description: in.Description, Icon: in.Icon}
	if err := s.store.Projects.Create(ctx, nil, p); err != nil {
		return nil, err
	}
	p.Members = []storage.ProjectUser{}
	logger.ForComponent("project").WithField("project_id", p.ID).Infof("Created project %q", p.Name)
	return p, nil
}

// List returns every project for an admin and the caller's active
// memberships otherwise.
func (s *Service) List(ctx context.Context, caller *storage.User) ([]storage.Project, error) {
	if caller.IsAdmin() {
		return s.store.Projects.List(ctx, nil)
	}
	return s.store.Projects.ListForUser(ctx, nil, caller.ID)
}

// Get hides projects the caller is not a member of behind a 404
func (s *Service) Get(ctx context.Context, caller *storage.User, id uint) (*storage.Project, error) {
	p, err := s.store.Projects.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound()
	}
	if caller.IsAdmin() {
		return p, nil
	}
	ok, err := s.store.Projects.IsActiveMember(ctx, nil, id, caller.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound()
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*storage.Project, error) {
	fields, err := in.fields()
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		n, err := s.store.Projects.Update(ctx, nil, id, fields)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, notFound()
		}
	}
	p, err := s.store.Projects.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound()
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	n, err := s.store.Projects.Delete(ctx, nil, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound()
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// AddUsers reactivates existing memberships and creates the rest in one
// transaction.
func (s *Service) AddUsers(ctx context.Context, projectID uint, in AddUsersInput) (*storage.Project, error) {
	ids := dedupe(in.UserIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("userIds must contain at least one user id")
	}

	p, err := s.store.Projects.Get(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound()
	}
	known, err := s.store.Users.CountByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	if known != int64(len(ids)) {
		return nil, apperr.Validation("One or more users do not exist")
	}

	err = s.store.Transaction(ctx, func(tx *gorm.DB) error {
		existing, err := s.store.Projects.Memberships(ctx, tx, projectID, ids)
		if err != nil {
			return err
		}
		have := make(map[string]struct{}, len(existing))
		reactivate := make([]string, 0, len(existing))
		for _, m := range existing {
			have[m.UserID] = struct{}{}
			reactivate = append(reactivate, m.UserID)
		}
		var fresh []storage.ProjectUser
		for _, id := range ids {
			if _, ok := have[id]; !ok {
				fresh = append(fresh, storage.ProjectUser{ProjectID: projectID, UserID: id, Active: true})
			}
		}

		if _, err := s.store.Projects.SetMembershipActive(ctx, tx, projectID, reactivate, true); err != nil {
			return err
		}
		return s.store.Projects.CreateMemberships(ctx, tx, fresh)
	})
	if err != nil {
		return nil, err
	}
	return s.store.Projects.Get(ctx, nil, projectID)
}

// RemoveUser deactivates the membership
func (s *Service) RemoveUser(ctx context.Context, projectID uint, userID string) error {
	p, err := s.store.Projects.Get(ctx, nil, projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return notFound()
	}
	n, err := s.store.Projects.SetMembershipActive(ctx, nil, projectID, []string{userID}, false)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("MEMBER_NOT_FOUND", "User is not a member of this project")
	}
	return nil
}
