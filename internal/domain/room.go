package domain

import "time"

// Room is a workspace that participants join by opaque room id.
type Room struct {
	ID        string    `gorm:"column:room_id;primaryKey;size:191"`
	Title     string    `gorm:"size:255;not null;default:'Untitled Workspace'"`
	MaxUsers  int       `gorm:"not null;default:10"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

const DefaultMaxUsers = 10
