package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type ProjectStore interface {
	Create(ctx context.Context, tx *gorm.DB, project *Project) error
	Get(ctx context.Context, tx *gorm.DB, id uint) (*Project, error)
	List(ctx context.Context, tx *gorm.DB) ([]Project, error)
	ListForUser(ctx context.Context, tx *gorm.DB, userID string) ([]Project, error)
	Update(ctx context.Context, tx *gorm.DB, id uint, fields map[string]any) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uint) (int64, error)

	Memberships(ctx context.Context, tx *gorm.DB, projectID uint, userIDs []string) ([]ProjectUser, error)
	CreateMemberships(ctx context.Context, tx *gorm.DB, rows []ProjectUser) error
	SetMembershipActive(ctx context.Context, tx *gorm.DB, projectID uint, userIDs []string, active bool) (int64, error)
	IsActiveMember(ctx context.Context, tx *gorm.DB, projectID uint, userID string) (bool, error)
}

type projectStore struct {
	db *gorm.DB
}

func NewProjectStore(db *gorm.DB) ProjectStore {
	return &projectStore{db: db}
}

func activeMembers(db *gorm.DB) *gorm.DB {
	return db.Where("active = ?", true).Preload("User")
}

func (s *projectStore) Create(ctx context.Context, tx *gorm.DB, project *Project) error {
	if err := normalizeErr(pick(s.db, tx).WithContext(ctx).Create(project).Error); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Get returns the project with its active members, or (nil, nil)
func (s *projectStore) Get(ctx context.Context, tx *gorm.DB, id uint) (*Project, error) {
	var p Project
	err := pick(s.db, tx).WithContext(ctx).
		Preload("Members", activeMembers).
		Where("id = ?", id).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *projectStore) List(ctx context.Context, tx *gorm.DB) ([]Project, error) {
	projects := []Project{}
	if err := pick(s.db, tx).WithContext(ctx).
		Preload("Members", activeMembers).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (s *projectStore) ListForUser(ctx context.Context, tx *gorm.DB, userID string) ([]Project, error) {
	db := pick(s.db, tx).WithContext(ctx)
	member := db.Model(&ProjectUser{}).Select("project_id").Where("user_id = ? AND active = ?", userID, true)

	projects := []Project{}
	if err := db.Preload("Members", activeMembers).
		Where("id IN (?)", member).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("list projects for user: %w", err)
	}
	return projects, nil
}

func (s *projectStore) Update(ctx context.Context, tx *gorm.DB, id uint, fields map[string]any) (int64, error) {
	res := pick(s.db, tx).WithContext(ctx).Model(&Project{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return 0, fmt.Errorf("update project: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes the project and its memberships; activities referencing
// it are detached.
func (s *projectStore) Delete(ctx context.Context, tx *gorm.DB, id uint) (int64, error) {
	var deleted int64
	run := func(tx *gorm.DB) error {
		if err := tx.Model(&Activity{}).Where("project_id = ?", id).Update("project_id", nil).Error; err != nil {
			return fmt.Errorf("detach activities: %w", err)
		}
		if err := tx.Where("project_id = ?", id).Delete(&ProjectUser{}).Error; err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Project{})
		if res.Error != nil {
			return fmt.Errorf("delete project: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	}

	if tx != nil {
		return deleted, run(tx.WithContext(ctx))
	}
	return deleted, s.db.WithContext(ctx).Transaction(run)
}

func (s *projectStore) Memberships(ctx context.Context, tx *gorm.DB, projectID uint, userIDs []string) ([]ProjectUser, error) {
	var rows []ProjectUser
	q := pick(s.db, tx).WithContext(ctx).Where("project_id = ?", projectID)
	if len(userIDs) > 0 {
		q = q.Where("user_id IN ?", userIDs)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return rows, nil
}

func (s *projectStore) CreateMemberships(ctx context.Context, tx *gorm.DB, rows []ProjectUser) error {
	if len(rows) == 0 {
		return nil
	}
	if err := normalizeErr(pick(s.db, tx).WithContext(ctx).Create(&rows).Error); err != nil {
		return fmt.Errorf("create memberships: %w", err)
	}
	return nil
}

func (s *projectStore) SetMembershipActive(ctx context.Context, tx *gorm.DB, projectID uint, userIDs []string, active bool) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	res := pick(s.db, tx).WithContext(ctx).Model(&ProjectUser{}).
		Where("project_id = ? AND user_id IN ?", projectID, userIDs).
		Update("active", active)
	if res.Error != nil {
		return 0, fmt.Errorf("update memberships: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *projectStore) IsActiveMember(ctx context.Context, tx *gorm.DB, projectID uint, userID string) (bool, error) {
	var n int64
	if err := pick(s.db, tx).WithContext(ctx).Model(&ProjectUser{}).
		Where("project_id = ? AND user_id = ? AND active = ?", projectID, userID, true).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}
