package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshctl/internal/contacts"
	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/storage/queuebolt"
)

const (
	settingPrefixPath  = "path."
	settingPrefixCreds = "login."
)

// storedOverride is the persisted shape of a per-contact routing override.
type storedOverride struct {
	Mode string `json:"mode"`
	Path []byte `json:"path,omitempty"`
}

func parsePublicKey(raw string) (frame.PublicKey, error) {
	var key frame.PublicKey
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return key, fmt.Errorf("public key is required")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return key, fmt.Errorf("invalid public key %q: %w", raw, err)
	}
	if len(b) != frame.KeyLen {
		return key, fmt.Errorf("public key must be %d bytes, got %d", frame.KeyLen, len(b))
	}
	copy(key[:], b)
	return key, nil
}

func parsePath(raw string) ([]frame.PublicKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	hops := make([]frame.PublicKey, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, err := parsePublicKey(part)
		if err != nil {
			return nil, err
		}
		hops = append(hops, key)
	}
	if len(hops) == 0 {
		return nil, fmt.Errorf("trace: -path requires at least one hop")
	}
	return hops, nil
}

// applyStoredOverrides replays persisted path overrides into the cache.
// Contacts not yet known are seeded as bare entries so the override is in
// place before their first advert arrives.
func applyStoredOverrides(store *queuebolt.Store, cache *contacts.Cache, log zerolog.Logger) error {
	entries, err := store.SettingsWithPrefix(settingPrefixPath)
	if err != nil {
		return err
	}
	for rawKey, rawVal := range entries {
		keyBytes, err := hex.DecodeString(rawKey)
		if err != nil || len(keyBytes) != frame.KeyLen {
			log.Warn().Str("key", rawKey).Msg("skipping malformed path override setting")
			continue
		}
		var key frame.PublicKey
		copy(key[:], keyBytes)

		var ov storedOverride
		if err := json.Unmarshal(rawVal, &ov); err != nil {
			log.Warn().Str("key", rawKey).Err(err).Msg("skipping unreadable path override setting")
			continue
		}
		mode := contacts.ModeAuto
		switch ov.Mode {
		case "fixed":
			mode = contacts.ModeFixed
		case "flood":
			mode = contacts.ModeFlood
		}
		cache.EnsureContact(key)
		if err := cache.SetPathOverride(key, mode, ov.Path); err != nil {
			log.Warn().Str("key", rawKey).Err(err).Msg("path override not applied")
		}
	}
	return nil
}

// setRouteOverride applies a routing override to the cache and persists
// it so later runs replay it at startup. Auto mode clears the persisted
// setting.
func setRouteOverride(store *queuebolt.Store, cache *contacts.Cache, key frame.PublicKey, modeName, pathHex string) error {
	var mode contacts.PathMode
	switch strings.ToLower(strings.TrimSpace(modeName)) {
	case "auto":
		mode = contacts.ModeAuto
	case "flood":
		mode = contacts.ModeFlood
	case "fixed":
		mode = contacts.ModeFixed
	default:
		return fmt.Errorf("route: unknown mode %q", modeName)
	}
	var path []byte
	if mode == contacts.ModeFixed {
		b, err := hex.DecodeString(strings.TrimSpace(pathHex))
		if err != nil {
			return fmt.Errorf("route: invalid -path: %w", err)
		}
		path = b
	}

	cache.EnsureContact(key)
	if err := cache.SetPathOverride(key, mode, path); err != nil {
		return err
	}

	settingKey := settingPrefixPath + hex.EncodeToString(key[:])
	if mode == contacts.ModeAuto {
		return store.DeleteSetting(settingKey)
	}
	val, err := json.Marshal(storedOverride{Mode: mode.String(), Path: path})
	if err != nil {
		return err
	}
	return store.PutSetting(settingKey, val)
}

func saveCredential(store *queuebolt.Store, key frame.PublicKey, password string) error {
	return store.PutSetting(settingPrefixCreds+hex.EncodeToString(key[:]), []byte(password))
}

func loadCredential(store *queuebolt.Store, key frame.PublicKey) (string, bool, error) {
	val, ok, err := store.Setting(settingPrefixCreds + hex.EncodeToString(key[:]))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(val), true, nil
}

func printContactTable(list []contacts.Contact) {
	if len(list) == 0 {
		fmt.Println("no contacts known")
		return
	}
	for _, c := range list {
		route := "flood"
		switch {
		case c.Mode == contacts.ModeFixed:
			route = fmt.Sprintf("fixed(%d hops)", len(c.FixedPath))
		case c.Mode == contacts.ModeAuto && c.HasOutPath:
			route = fmt.Sprintf("auto(%d hops)", len(c.OutPath))
		}
		name := c.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-24s %-8s %-16s %x\n", name, c.Kind, route, c.PublicKey[:frame.PrefixLen])
	}
}
