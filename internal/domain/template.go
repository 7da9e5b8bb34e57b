package domain

import "time"

// Template is a read-only subject/body pair keyed by (Key, Channel, Language).
type Template struct {
	ID              string
	Key             string
	Channel         Channel
	Language        string
	SubjectTemplate string
	BodyTemplate    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
