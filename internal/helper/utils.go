package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxSessionIDLength = 64

var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// NewSessionID returns ids like session_20061016_150405_1a2b3c4d
func NewSessionID(now time.Time) (string, error) {
	id, err := GenerateUUID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("session_%s_%s", now.Format("20060102_150405"), strings.ReplaceAll(id, "-", "")[:8]), nil
}

// ValidateSessionID rejects ids that could escape the base directory.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(id) > maxSessionIDLength {
		return fmt.Errorf("session id too long (max %d chars)", maxSessionIDLength)
	}
	if !validSessionID.MatchString(id) {
		return fmt.Errorf("session id can only contain letters, numbers, hyphens, and underscores")
	}
	return nil
}

// CreateFolder creates path and any missing parents
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// FprettyPrint writes v to w as indented JSON
func FprettyPrint(w io.Writer, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Fprintln(w, string(b))
}
