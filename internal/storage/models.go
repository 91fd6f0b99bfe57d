package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// AnyTitle is the wildcard title of an app-wide tag rule
const AnyTitle = "any"

type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Email     string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	Name      string    `gorm:"size:255" json:"name"`
	Role      Role      `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type Session struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"index;size:36;not null" json:"userId"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Activity is either a raw tracker event or, once the merge job has run,
// a per-day aggregate of events sharing (user, app, title, selected).
type Activity struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	UserID          string    `gorm:"index;size:36;not null" json:"userId"`
	App             string    `gorm:"index;not null" json:"app"`
	Title           string    `gorm:"not null" json:"title"`
	URL             string    `gorm:"not null" json:"url"`
	Description     *string   `json:"description"`
	Timestamp       string    `gorm:"index;not null" json:"timestamp"`
	Duration        int       `gorm:"not null" json:"duration"`
	Selected        bool      `gorm:"not null" json:"selected"`
	ProjectID       *uint     `gorm:"index" json:"projectId"`
	Merged          bool      `gorm:"index;not null" json:"merged"`
	MergedTimestamp *string   `json:"mergedTimestamp"`
	AutoTags        string    `gorm:"not null" json:"autoTags"`
	IsAutoTagged    bool      `gorm:"index;not null" json:"isAutoTagged"`
	CreatedAt       time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Tag maps an (app, title) pair, or (app, "any"), to a category.
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	App       string    `gorm:"uniqueIndex:idx_tags_app_title;size:255;not null" json:"app"`
	Title     string    `gorm:"uniqueIndex:idx_tags_app_title;size:1024;not null" json:"title"`
	Tag       string    `gorm:"size:64;not null" json:"tag"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

type Project struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	Name        string        `gorm:"size:100;not null" json:"name"`
	Description string        `gorm:"size:500" json:"description"`
	Icon        string        `gorm:"size:50;not null" json:"icon"`
	Members     []ProjectUser `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ProjectUser is a membership row. Removal flips Active instead of deleting.
type ProjectUser struct {
	ProjectID uint      `gorm:"primaryKey" json:"projectId"`
	UserID    string    `gorm:"primaryKey;size:36" json:"userId"`
	Active    bool      `gorm:"not null" json:"active"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DailyInsight is unique per (user, calendar day). Date holds midnight UTC
// of the day in the reference timezone.
type DailyInsight struct {
	ID              string                      `gorm:"primaryKey;size:36" json:"id"`
	UserID          string                      `gorm:"uniqueIndex:idx_insights_user_date;size:36;not null" json:"userId"`
	Date            time.Time                   `gorm:"uniqueIndex:idx_insights_user_date;not null" json:"date"`
	DailyInsights   datatypes.JSONSlice[string] `json:"dailyInsights"`
	ImprovementPlan datatypes.JSONSlice[string] `json:"improvementPlan"`
	CreatedAt       time.Time                   `json:"createdAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
}

func (d *DailyInsight) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

func allModels() []any {
	return []any{
		&User{},
		&Session{},
		&Project{},
		&ProjectUser{},
		&Activity{},
		&Tag{},
		&DailyInsight{},
	}
}
