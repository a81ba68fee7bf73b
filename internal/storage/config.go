package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"carrental-backend/internal/domain"
)

// Config holds local storage settings
type Config struct {
	Dir           string // root directory of stored objects
	BaseURL       string // server base URL for upload and download links
	SigningSecret string
	MaxFileSize   int64 // bytes; 0 means unlimited
	AllowedTypes  []string
}

func (c Config) allows(contentType string) bool {
	if len(c.AllowedTypes) == 0 {
		return true
	}
	for _, t := range c.AllowedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// ConditionPhotoKey names a new condition photo object of a booking.
func ConditionPhotoKey(bookingID int64, phase domain.ConditionPhase, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("bookings/%d/%s/%s.%s", bookingID, strings.ToLower(string(phase)), uuid.NewString(), ext)
}

// ContractKey is the object key of the rental contract of a booking.
func ContractKey(bookingID int64) string {
	return fmt.Sprintf("contracts/booking-%d.pdf", bookingID)
}

// CleanKey rejects keys that are empty, absolute or leave the storage root.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
