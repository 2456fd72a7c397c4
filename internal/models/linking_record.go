package models

import "time"

// LinkAction is the kind of linking event recorded in the audit log.
type LinkAction string

const (
	ActionLink   LinkAction = "link"
	ActionUnlink LinkAction = "unlink"
)

// LinkingRecord is an append-only audit entry written every time a
// transaction is linked to or unlinked from a budget line.
type LinkingRecord struct {
	ID            string
	TransactionID string
	LineID        string
	Action        LinkAction
	Actor         string
	At            time.Time
}
