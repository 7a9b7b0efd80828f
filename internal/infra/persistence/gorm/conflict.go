package gormpersistence

import "gorm.io/gorm/clause"

// onConflictDoNothing is used for get-or-create style inserts that race
// under concurrent room admission.
func onConflictDoNothing() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}
