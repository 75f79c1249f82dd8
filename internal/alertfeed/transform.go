package alertfeed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

// alertMessage is the feed topic's wire format, a flattened CAP alert as
// published by the Meteoalarm bridge.
type alertMessage struct {
	AlertID       string `json:"alert_id"`
	Source        string `json:"source"`
	Type          string `json:"type,omitempty"`
	AwarenessType string `json:"awareness_type,omitempty"`
	CountryCode   string `json:"country_code"`
	Severity      string `json:"severity"`
	Onset         string `json:"onset,omitempty"`
	Expires       string `json:"expires,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// awarenessTypes maps Meteoalarm awareness categories onto challenge types,
// for bridges that publish the raw CAP category instead of a challenge type.
var awarenessTypes = map[string]domain.ChallengeType{
	"high-temperature": domain.ChallengeHeat,
	"extreme-heat":     domain.ChallengeHeat,
	"flooding":         domain.ChallengeFloods,
	"rain-flood":       domain.ChallengeFloods,
	"coastal-flood":    domain.ChallengeFloods,
	"forest-fire":      domain.ChallengeWildfire,
}

// Transform parses one raw feed message into an alert event. A message that
// lacks an ID or region, or whose category maps to no challenge type, is
// rejected and will be committed without being stored.
func Transform(raw domain.RawAlert) (domain.AlertEvent, error) {
	var msg alertMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return domain.AlertEvent{}, fmt.Errorf("parse alert message: %w", err)
	}

	challengeType, err := resolveType(msg)
	if err != nil {
		return domain.AlertEvent{}, err
	}
	if msg.AlertID == "" {
		return domain.AlertEvent{}, fmt.Errorf("alert message has no alert_id")
	}

	region := domain.ResolveRegion("", msg.CountryCode)
	if region == "UNKNOWN" {
		return domain.AlertEvent{}, fmt.Errorf("alert message has no country_code")
	}

	source := msg.Source
	if source == "" {
		source = "meteoalarm"
	}

	updatedAt := raw.Timestamp
	if t, ok := parseTime(msg.UpdatedAt); ok {
		updatedAt = t
	}
	if updatedAt.IsZero() {
		return domain.AlertEvent{}, fmt.Errorf("alert message has no usable timestamp")
	}

	alert := domain.AlertEvent{
		Type:           challengeType,
		Source:         source,
		SourceNativeID: msg.AlertID,
		RegionCode:     region,
		Severity:       strings.ToLower(msg.Severity),
		Raw:            raw.Value,
		UpdatedAt:      updatedAt.UTC(),
	}
	if t, ok := parseTime(msg.Onset); ok {
		alert.Onset = &t
	}
	if t, ok := parseTime(msg.Expires); ok {
		alert.Expires = &t
	}
	return alert, nil
}

// resolveType prefers an explicit challenge type, then the awareness mapping.
func resolveType(msg alertMessage) (domain.ChallengeType, error) {
	if msg.Type != "" {
		t := domain.ChallengeType(msg.Type)
		if !domain.KnownChallengeType(t) {
			return "", fmt.Errorf("unknown challenge type %q", msg.Type)
		}
		return t, nil
	}
	if t, ok := awarenessTypes[strings.ToLower(msg.AwarenessType)]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unmapped awareness type %q", msg.AwarenessType)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
