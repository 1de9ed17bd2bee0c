package state

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

// AreaCfg is one ordered area rule. A peer belongs to the first area whose
// neighbor regex matches its node name. Matching is case-insensitive and
// anchored to the full string.
type AreaCfg struct {
	Id              string   `yaml:"id"`
	NeighborRegexes []string `yaml:"neighbor_regexes"`
	IfaceRegexes    []string `yaml:"interface_regexes,omitempty"`

	neighborRe *regexp.Regexp
	ifaceRe    *regexp.Regexp
}

// FibCfg configures the kernel route programming module.
type FibCfg struct {
	Enable bool `yaml:"enable,omitempty"`
	// DryRun keeps the route caches but skips netlink calls.
	DryRun bool `yaml:"dry_run,omitempty"`
	// ExcludeIPs are ranges that must never be programmed; requested
	// routes are clipped against them.
	ExcludeIPs []netip.Prefix `yaml:"exclude_ips,omitempty"`
}

// SparkCfg represents local node-level configuration.
type SparkCfg struct {
	Domain string `yaml:"domain"`
	Node   string `yaml:"node"`

	HelloInterval         time.Duration `yaml:"hello_interval,omitempty"`
	FastInitHelloInterval time.Duration `yaml:"fast_init_hello_interval,omitempty"`
	KeepAliveInterval     time.Duration `yaml:"keep_alive_interval,omitempty"`
	HandshakeInterval     time.Duration `yaml:"handshake_interval,omitempty"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval,omitempty"`
	NegotiateHold         time.Duration `yaml:"negotiate_hold,omitempty"`
	HeartbeatHold         time.Duration `yaml:"heartbeat_hold,omitempty"`
	GrHold                time.Duration `yaml:"gr_hold,omitempty"`

	EnableV4     bool `yaml:"enable_v4,omitempty"`
	EnableSpark2 bool `yaml:"enable_spark2,omitempty"`

	Version             uint32 `yaml:"version,omitempty"`
	MinSupportedVersion uint32 `yaml:"min_supported_version,omitempty"`

	Areas []AreaCfg `yaml:"areas,omitempty"`

	McastPort  uint16 `yaml:"multicast_port,omitempty"`
	StatusAddr string `yaml:"status_addr,omitempty"`
	LogPath    string `yaml:"log_path,omitempty"`

	Fib FibCfg `yaml:"fib,omitempty"`
}

// ExpandConfig fills in defaults for everything the operator left unset.
func ExpandConfig(cfg *SparkCfg) {
	if cfg.HelloInterval == 0 {
		cfg.HelloInterval = DefaultHelloInterval
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.FastInitHelloInterval == 0 {
		cfg.FastInitHelloInterval = cfg.KeepAliveInterval
	}
	if cfg.HandshakeInterval == 0 {
		cfg.HandshakeInterval = DefaultHandshakeInterval
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.NegotiateHold == 0 {
		cfg.NegotiateHold = DefaultNegotiateHold
	}
	if cfg.HeartbeatHold == 0 {
		cfg.HeartbeatHold = DefaultHeartbeatHold
	}
	if cfg.GrHold == 0 {
		cfg.GrHold = DefaultGrHold
	}
	if cfg.Version == 0 {
		cfg.Version = SparkVersion
	}
	if cfg.MinSupportedVersion == 0 {
		cfg.MinSupportedVersion = LegacyVersion
	}
	if cfg.McastPort == 0 {
		cfg.McastPort = DefaultMcastPort
	}
}

// AdvertisedVersion is what goes on the wire. A node with spark2 disabled
// presents itself as a legacy speaker regardless of its build version.
func (c *SparkCfg) AdvertisedVersion() uint32 {
	if !c.EnableSpark2 {
		return LegacyVersion
	}
	return c.Version
}

func compileAnchored(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	expr := fmt.Sprintf("(?i)^(%s)$", strings.Join(patterns, "|"))
	return regexp.Compile(expr)
}

// CompileAreas compiles every area rule. Must be called once after config
// load; an uncompiled rule never matches.
func CompileAreas(cfg *SparkCfg) error {
	for i := range cfg.Areas {
		area := &cfg.Areas[i]
		re, err := compileAnchored(area.NeighborRegexes)
		if err != nil {
			return fmt.Errorf("area %s neighbor regex: %w", area.Id, err)
		}
		area.neighborRe = re
		re, err = compileAnchored(area.IfaceRegexes)
		if err != nil {
			return fmt.Errorf("area %s interface regex: %w", area.Id, err)
		}
		area.ifaceRe = re
	}
	return nil
}

// MatchArea returns the id of the first rule matching the peer's node name
// on the given interface. The second result is false when no rule matches.
// A node with no area configuration at all proposes DefaultArea.
func (c *SparkCfg) MatchArea(peerNode, ifName string) (string, bool) {
	if len(c.Areas) == 0 {
		return DefaultArea, true
	}
	for i := range c.Areas {
		area := &c.Areas[i]
		if area.neighborRe == nil || !area.neighborRe.MatchString(peerNode) {
			continue
		}
		if area.ifaceRe != nil && !area.ifaceRe.MatchString(ifName) {
			continue
		}
		return area.Id, true
	}
	return "", false
}

// InterfaceRecord is the link-monitor's view of one tracked interface.
type InterfaceRecord struct {
	Name        string
	IfIndex     int
	V4Cidr      netip.Prefix
	V6LinkLocal netip.Addr
}

func (r *InterfaceRecord) Valid(requireV4 bool) bool {
	if r.Name == "" || r.IfIndex <= 0 {
		return false
	}
	if requireV4 && !r.V4Cidr.IsValid() {
		return false
	}
	return r.V6LinkLocal.IsValid()
}
