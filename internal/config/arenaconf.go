package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tick is the canonical duration unit of the VIE protocol: all tick-valued
// settings (Misc:ShipChangeInterval, King:StartDelay, …) count 10 ms ticks.
const Tick = 10 * time.Millisecond

// ArenaConf exposes the Section:Key settings surface of one arena. It is
// loaded from a defaults document plus an optional per-arena overlay, and
// reloaded in place on ConfChanged. Lookups never fail: a missing key yields
// the caller's default, matching the "default substitution, logged by the
// consumer" error policy.
type ArenaConf struct {
	sections map[string]map[string]string
}

// LoadArenaConf reads dir/defaults.yaml (if present) and overlays
// dir/<name>.yaml (if present). Both missing is still a valid, empty conf.
func LoadArenaConf(dir, name string) (*ArenaConf, error) {
	c := &ArenaConf{sections: make(map[string]map[string]string)}
	base := baseArenaName(name)
	for _, p := range []string{
		dir + "/defaults.yaml",
		dir + "/" + base + ".yaml",
	} {
		if err := c.overlayFile(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// baseArenaName strips the instance number: "turf3" shares turf.yaml.
func baseArenaName(name string) string {
	return strings.TrimRight(name, "0123456789")
}

func (c *ArenaConf) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read arena conf %s: %w", path, err)
	}
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse arena conf %s: %w", path, err)
	}
	for sec, keys := range raw {
		c.overlaySection(sec, keys)
	}
	return nil
}

func (c *ArenaConf) overlaySection(sec string, keys map[string]any) {
	secKey := strings.ToLower(sec)
	m, ok := c.sections[secKey]
	if !ok {
		m = make(map[string]string, len(keys))
		c.sections[secKey] = m
	}
	for k, v := range keys {
		m[strings.ToLower(k)] = fmt.Sprint(v)
	}
}

// Lookup returns the raw value of Section:Key.
func (c *ArenaConf) Lookup(section, key string) (string, bool) {
	m, ok := c.sections[strings.ToLower(section)]
	if !ok {
		return "", false
	}
	v, ok := m[strings.ToLower(key)]
	return v, ok
}

func (c *ArenaConf) GetStr(section, key, def string) string {
	if v, ok := c.Lookup(section, key); ok {
		return v
	}
	return def
}

func (c *ArenaConf) GetInt(section, key string, def int) int {
	v, ok := c.Lookup(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func (c *ArenaConf) GetBool(section, key string, def bool) bool {
	v, ok := c.Lookup(section, key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

// GetTicks reads a tick-valued setting and converts to a Duration.
func (c *ArenaConf) GetTicks(section, key string, defTicks int) time.Duration {
	return time.Duration(c.GetInt(section, key, defTicks)) * Tick
}

// Set overrides a single key in place. Used by tests and by operator
// commands that tweak settings at runtime.
func (c *ArenaConf) Set(section, key, value string) {
	c.overlaySection(section, map[string]any{key: value})
}
