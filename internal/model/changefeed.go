package model

import "encoding/json"

// Change feed operations
const (
	ChangeOpInsert = "insert"
	ChangeOpUpdate = "update"
	ChangeOpDelete = "delete"
)

// Table names as published on the feed channels.
const (
	TableUsers         = "users"
	TablePatients      = "patients"
	TableTreatments    = "treatments"
	TableNotifications = "notifications"
)

// ChangeEvent is the wire form of a single row change, published on the
// feed:<table> channel after a committed write.
type ChangeEvent struct {
	Op    string          `json:"op"`
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}
