package models

import "time"

// Category groups posts and carries a set of subscribed users.
type Category struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Subscribers []User `gorm:"many2many:category_subscriptions" json:"-"`
}

// Subscription is the join row between a category and a subscribed user.
// The composite primary key keeps the relation a set.
type Subscription struct {
	CategoryID uint      `gorm:"primaryKey;autoIncrement:false"`
	UserID     uint      `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName overrides the default join table name.
func (Subscription) TableName() string {
	return "category_subscriptions"
}
