package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultGame is the game slug used in every API path.
const DefaultGame = "zombidef"

// AuthHeader carries the player token on every request.
const AuthHeader = "X-Auth-Token"

// Round statuses reported by the rounds listing.
const (
	RoundActive = "active"
	RoundEnded  = "ended"
)

// API paths relative to the base URL.
func RoundsPath(game string) string      { return "/rounds/" + game }
func ParticipatePath(game string) string { return "/play/" + game + "/participate" }
func WorldPath(game string) string       { return "/play/" + game + "/world" }
func UnitsPath(game string) string       { return "/play/" + game + "/units" }
func CommandPath(game string) string     { return "/play/" + game + "/command" }

// Decode unmarshals a response body. A body that decodes to JSON null is rejected so callers
// never see a zero-valued payload in place of a real one.
func Decode(b []byte, v any) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("empty body")
	}
	return json.Unmarshal(b, v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTime reads an ISO-8601 timestamp. Values without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}
