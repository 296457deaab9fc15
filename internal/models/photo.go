package models

import "time"

// Photo represents an uploaded image available as pipeline input.
// The stored filename is opaque and globally unique; Name keeps the
// display name as uploaded so it survives renames on disk.
type Photo struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
