package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var runIDRe = regexp.MustCompile(`^run_([0-9]{10})_[0-9a-f]{8}$`)

// GenerateRunID returns "run_<unix seconds>_<8 hex>". IDs sort by start time.
func GenerateRunID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return fmt.Sprintf("run_%010d_%s", time.Now().Unix(), hex.EncodeToString(b)), nil
}

func ValidRunID(id string) bool {
	return runIDRe.MatchString(id)
}

// RunIDTime is the creation time encoded in a run ID.
func RunIDTime(id string) (time.Time, error) {
	m := runIDRe.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid run id: %q", id)
	}
	sec, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run id %q: %w", id, err)
	}
	return time.Unix(sec, 0), nil
}
