// Package config loads, validates and migrates the bridge's
// configuration document (spec §6). File discovery uses
// github.com/spf13/viper with the same AddConfigPath/ReadInConfig
// pattern as the teacher's InitialiseConfig; because the document
// carries a schema version that must be migrated in place, the raw
// bytes are then read and rewritten by hand with encoding/json rather
// than through viper's own (schema-agnostic) unmarshalling — viper
// owns finding the file, the migration logic owns its shape.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/hueartnet/bridge/internal/bridgeerr"
	"github.com/hueartnet/bridge/internal/models"
)

const CurrentVersion = 3

// Document is the current (v3) configuration document shape (spec §6).
type Document struct {
	Version int `json:"version"`
	ArtNet  struct {
		BindIP string `json:"bindIp"`
	} `json:"artnet"`
	Hubs []models.HubConfig `json:"hubs"`
}

// Locate finds the config file on disk using the teacher's search-path
// convention (working dir, user config dir, /etc), keyed by appName.
func Locate(appName string) (string, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(fmt.Sprintf("/etc/%s/", appName))
	v.AddConfigPath(fmt.Sprintf("$HOME/.config/%s/", appName))
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("config: locating config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load reads the document at path, migrating it to CurrentVersion if it
// carries an older schema version. A migration writes a best-effort
// sibling backup before overwriting the original file (spec §6).
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.ConfigInvalid, "reading config file "+path, err)
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.ConfigInvalid, "parsing config file "+path, err)
	}

	switch {
	case probe.Version == CurrentVersion:
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.ConfigInvalid, "parsing v3 config", err)
		}
		return &doc, nil

	case probe.Version == 2:
		doc, err := migrateV2(raw)
		if err != nil {
			return nil, err
		}
		if err := writeMigrated(path, 2, doc); err != nil {
			return nil, err
		}
		return doc, nil

	case probe.Version == 0, probe.Version == 1:
		doc, err := migrateV1(raw)
		if err != nil {
			return nil, err
		}
		if err := writeMigrated(path, 1, doc); err != nil {
			return nil, err
		}
		return doc, nil

	default:
		return nil, bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("unsupported config version %d", probe.Version))
	}
}

// writeMigrated backs up the original file alongside a ".bak-vN"
// sibling and overwrites path with the migrated document. Backup
// failure is non-fatal — a best-effort safety net, not a correctness
// requirement.
func writeMigrated(path string, fromVersion int, doc *Document) error {
	if raw, err := os.ReadFile(path); err == nil {
		backupPath := fmt.Sprintf("%s.bak-v%d", path, fromVersion)
		_ = os.WriteFile(backupPath, raw, 0o600)
	}

	migrated, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.ConfigInvalid, "marshalling migrated config", err)
	}
	if err := os.WriteFile(path, migrated, 0o600); err != nil {
		return bridgeerr.Wrap(bridgeerr.ConfigInvalid, "writing migrated config", err)
	}
	return nil
}

// v1Document is the legacy flat, single-hub document (spec §6).
type v1Document struct {
	BindIP                       string                  `json:"bindIp"`
	Host                         string                  `json:"host"`
	Username                     string                  `json:"username"`
	ClientKey                    string                  `json:"clientKey"`
	EntertainmentConfigurationID string                  `json:"entertainmentConfigurationId"`
	ArtNetUniverse               int                     `json:"artNetUniverse"`
	Channels                     []models.ChannelMapping `json:"channels"`
}

func migrateV1(raw []byte) (*Document, error) {
	var v1 v1Document
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.ConfigInvalid, "parsing v1 config", err)
	}

	doc := &Document{Version: CurrentVersion}
	doc.ArtNet.BindIP = v1.BindIP
	doc.Hubs = []models.HubConfig{{
		ID:                           "hub-1",
		Host:                         v1.Host,
		Username:                     v1.Username,
		ClientKey:                    v1.ClientKey,
		EntertainmentConfigurationID: v1.EntertainmentConfigurationID,
		ArtNetUniverse:               v1.ArtNetUniverse,
		Channels:                     v1.Channels,
	}}
	return doc, nil
}

// v2Document is keyed by lightId/entertainmentRoomId rather than
// channelId/entertainmentConfigurationId (spec §6).
type v2Document struct {
	Version int `json:"version"`
	ArtNet  struct {
		BindIP string `json:"bindIp"`
	} `json:"artnet"`
	Hubs []v2HubDoc `json:"hubs"`
}

type v2HubDoc struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Host                string         `json:"host"`
	Username            string         `json:"username"`
	ClientKey           string         `json:"clientKey"`
	EntertainmentRoomID string         `json:"entertainmentRoomId"`
	ArtNetUniverse      int            `json:"artNetUniverse"`
	Channels            []v2ChannelDoc `json:"channels"`
}

type v2ChannelDoc struct {
	LightID     string             `json:"lightId"`
	DMXStart    int                `json:"dmxStart"`
	ChannelMode models.ChannelMode `json:"channelMode"`
}

// migrateV2 maps lightId -> channelId where the lightId is numerically
// parseable (dropping entries that aren't — they can't be expressed as
// a DMX-512 channel record), and preserves entertainmentRoomId as
// entertainmentConfigurationId only when it is UUID-shaped.
func migrateV2(raw []byte) (*Document, error) {
	var v2 v2Document
	if err := json.Unmarshal(raw, &v2); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.ConfigInvalid, "parsing v2 config", err)
	}

	doc := &Document{Version: CurrentVersion}
	doc.ArtNet.BindIP = v2.ArtNet.BindIP

	for _, h := range v2.Hubs {
		hub := models.HubConfig{
			ID:             h.ID,
			Name:           h.Name,
			Host:           h.Host,
			Username:       h.Username,
			ClientKey:      h.ClientKey,
			ArtNetUniverse: h.ArtNetUniverse,
		}

		if IsUUIDShape(h.EntertainmentRoomID) {
			hub.EntertainmentConfigurationID = h.EntertainmentRoomID
		}

		hub.Channels = lo.FilterMap(h.Channels, func(c v2ChannelDoc, _ int) (models.ChannelMapping, bool) {
			channelID, err := strconv.Atoi(c.LightID)
			if err != nil {
				return models.ChannelMapping{}, false
			}
			return models.ChannelMapping{
				ChannelID:   channelID,
				DMXStart:    c.DMXStart,
				ChannelMode: c.ChannelMode,
			}, true
		})

		doc.Hubs = append(doc.Hubs, hub)
	}

	return doc, nil
}

// IsUUIDShape reports whether s is a 36-character UUID string with the
// canonical 8-4-4-4-12 hyphenation (spec §3).
func IsUUIDShape(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// DecodePSK decodes the hub's hex-encoded PSK secret, rejecting empty
// or malformed values (spec §3).
func DecodePSK(hexSecret string) ([]byte, error) {
	if hexSecret == "" {
		return nil, bridgeerr.New(bridgeerr.ConfigInvalid, "PSK secret (clientKey) is empty")
	}
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.ConfigInvalid, "PSK secret is not valid hex", err)
	}
	if len(secret) == 0 {
		return nil, bridgeerr.New(bridgeerr.ConfigInvalid, "PSK secret decodes to zero bytes")
	}
	return secret, nil
}

// ValidateMapping checks the per-mapping invariants from spec §3 and
// §8: a recognized mode and dmxStart+width-1 <= 512.
func ValidateMapping(m models.ChannelMapping) error {
	width := m.ChannelMode.Width()
	if width == 0 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("channel %d: unrecognized channelMode %q", m.ChannelID, m.ChannelMode))
	}
	if m.DMXStart < 1 || m.DMXStart > 512 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("channel %d: dmxStart %d out of range 1..512", m.ChannelID, m.DMXStart))
	}
	if m.DMXStart+width-1 > 512 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("channel %d: dmxStart %d + width %d exceeds 512", m.ChannelID, m.DMXStart, width))
	}
	if m.ChannelID < 0 || m.ChannelID > 255 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("channel %d: channelId out of range 0..255", m.ChannelID))
	}
	return nil
}

// ValidateRunnerInputs checks the fields a Hub Runner needs to start
// (spec §6): host, username, clientKey, entertainmentConfigurationId
// and a non-empty channel list. Missing any is a fatal startup error
// for that hub only.
func ValidateRunnerInputs(hub models.HubConfig) error {
	var missing []string
	if hub.Host == "" {
		missing = append(missing, "host")
	}
	if hub.Username == "" {
		missing = append(missing, "username")
	}
	if hub.ClientKey == "" {
		missing = append(missing, "clientKey")
	}
	if hub.EntertainmentConfigurationID == "" {
		missing = append(missing, "entertainmentConfigurationId")
	}
	if len(hub.Channels) == 0 {
		missing = append(missing, "channels")
	}
	if len(missing) > 0 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("hub %s missing required fields: %v", hub.ID, missing))
	}
	if !IsUUIDShape(hub.EntertainmentConfigurationID) {
		return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("hub %s: entertainmentConfigurationId %q is not UUID-shaped", hub.ID, hub.EntertainmentConfigurationID))
	}
	for _, m := range hub.Channels {
		if err := ValidateMapping(m); err != nil {
			return err
		}
	}
	return checkMappingOverlaps(hub)
}

// checkMappingOverlaps rejects a hub whose channel mappings claim
// overlapping DMX slot ranges (spec §3, §7: "mapping overlaps" is a
// ConfigInvalid condition).
func checkMappingOverlaps(hub models.HubConfig) error {
	ranges := make([]struct{ start, end, channelID int }, len(hub.Channels))
	for i, m := range hub.Channels {
		ranges[i] = struct{ start, end, channelID int }{m.DMXStart, m.DMXStart + m.ChannelMode.Width() - 1, m.ChannelID}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	for i := 1; i < len(ranges); i++ {
		if ranges[i].start <= ranges[i-1].end {
			return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf(
				"hub %s: channel %d's DMX slots overlap channel %d's", hub.ID, ranges[i].channelID, ranges[i-1].channelID))
		}
	}
	return nil
}
