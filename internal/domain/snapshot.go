package domain

import "time"

// Snapshot is the latest durable workspace state for a room, stored as an
// opaque payload (the client-supplied workspaceXml) rather than interpreted
// by the server.
type Snapshot struct {
	RoomID    string `gorm:"column:room_id;primaryKey;size:191"`
	Payload   []byte `gorm:"type:mediumblob"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// MaxSnapshotBytes bounds the payload the server will accept or persist.
const MaxSnapshotBytes = 1 << 20 // 1 MiB
