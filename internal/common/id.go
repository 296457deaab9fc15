package common

import (
	"github.com/google/uuid"
)

// NewPhotoID generates a unique photo ID with the "photo_" prefix
func NewPhotoID() string {
	return "photo_" + uuid.New().String()
}

// NewJobID generates a unique job ID
func NewJobID() string {
	return uuid.New().String()
}

// ShortID returns the first 6 characters of an ID, used in artifact filenames.
func ShortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6]
}
