package models

import (
	"time"
)

// AuthorGroup is the group whose members are shown author controls.
const AuthorGroup = "author"

// Permission codenames checked by the post handlers.
const (
	PermAddPost    = "news.add_post"
	PermChangePost = "news.change_post"
	PermDeletePost = "news.delete_post"
)

// User is an identity owned by the external auth service. This service only
// reads it, apart from seeding and admin tooling.
type User struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Username    string       `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email       string       `gorm:"size:254" json:"-"`
	Password    string       `json:"-"`
	IsSuperuser bool         `gorm:"default:false" json:"-"`
	Groups      []Group      `gorm:"many2many:auth_user_groups" json:"-"`
	Permissions []Permission `gorm:"many2many:auth_user_permissions" json:"-"`
	CreatedAt   time.Time    `json:"-"`
	UpdatedAt   time.Time    `json:"-"`
}

// Group bundles permissions, e.g. the "author" group.
type Group struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"size:150;uniqueIndex;not null" json:"name"`
	Permissions []Permission `gorm:"many2many:auth_group_permissions" json:"-"`
}

// TableName keeps the table clear of the GROUPS keyword.
func (Group) TableName() string {
	return "auth_groups"
}

// Permission is a named capability such as "news.add_post".
type Permission struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Codename string `gorm:"size:100;uniqueIndex;not null" json:"codename"`
	Name     string `gorm:"size:255" json:"name"`
}

// TableName overrides the default table name.
func (Permission) TableName() string {
	return "auth_permissions"
}
