package state

import (
	"fmt"
	"regexp"
)

var namePattern = regexp.MustCompile("^[0-9A-Za-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 255 {
		return fmt.Errorf("len(%q) = %d > 255 is too long", s, len(s))
	}
	return nil
}

func ConfigValidator(cfg *SparkCfg) error {
	if err := NameValidator(cfg.Domain); err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	if err := NameValidator(cfg.Node); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	intervals := []Pair[string, int64]{
		{"hello_interval", int64(cfg.HelloInterval)},
		{"fast_init_hello_interval", int64(cfg.FastInitHelloInterval)},
		{"keep_alive_interval", int64(cfg.KeepAliveInterval)},
		{"handshake_interval", int64(cfg.HandshakeInterval)},
		{"heartbeat_interval", int64(cfg.HeartbeatInterval)},
		{"negotiate_hold", int64(cfg.NegotiateHold)},
		{"heartbeat_hold", int64(cfg.HeartbeatHold)},
		{"gr_hold", int64(cfg.GrHold)},
	}
	for _, iv := range intervals {
		if iv.V2 <= 0 {
			return fmt.Errorf("%s must be positive", iv.V1)
		}
	}
	if cfg.MinSupportedVersion > cfg.Version {
		return fmt.Errorf("min_supported_version %d exceeds version %d", cfg.MinSupportedVersion, cfg.Version)
	}
	seen := make(map[string]bool)
	for _, area := range cfg.Areas {
		if area.Id == "" {
			return fmt.Errorf("area with empty id")
		}
		if area.Id == DefaultArea {
			return fmt.Errorf("area id %q is reserved", DefaultArea)
		}
		if seen[area.Id] {
			return fmt.Errorf("duplicate area id: %s", area.Id)
		}
		seen[area.Id] = true
	}
	return CompileAreas(cfg)
}
