package domain

import "time"

// Participant is a connected client's presence record within a room.
type Participant struct {
	ClientID string
	Nickname string
	Color    string
	JoinedAt time.Time
	LastSeen time.Time
}

// ColorPalette is the deterministic, join-order color assignment pool.
// Ported from the palette the original workspace consumer picked colors
// from at random; here the Nth distinct participant to join a room takes
// ColorPalette[N % len(ColorPalette)].
var ColorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B739", "#52B788", "#E63946", "#457B9D",
}

func ColorForSeq(seq int) string {
	return ColorPalette[seq%len(ColorPalette)]
}
