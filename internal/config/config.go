// Package config loads the agent configuration: process settings and the
// desired switch configuration, from one YAML file.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/observability"
	"github.com/signalsfoundry/switchagent/model"
)

// Backend selects the Control API implementation.
type Backend string

const (
	BackendFake   Backend = "fake"
	BackendNetdev Backend = "netdev"
)

// Config is the agent configuration file.
type Config struct {
	SwitchID          string                      `yaml:"switch_id"`
	Backend           Backend                     `yaml:"backend"`
	Netns             string                      `yaml:"netns"`
	DefaultVlan       model.VlanID                `yaml:"default_vlan"`
	ReconcileInterval time.Duration               `yaml:"reconcile_interval"`
	StatsInterval     time.Duration               `yaml:"stats_interval"`
	WarmBootFile      string                      `yaml:"warm_boot_file"`
	GRPCAddr          string                      `yaml:"grpc_addr"`
	MetricsAddr       string                      `yaml:"metrics_addr"`
	Log               LogConfig                   `yaml:"log"`
	Tracing           observability.TracingConfig `yaml:"tracing"`

	Ports      []PortConfig      `yaml:"ports"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	ACLs       []AclConfig       `yaml:"acls"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PortConfig binds a logical port id to a hardware port name and carries
// its desired state.
type PortConfig struct {
	ID          model.PortID `yaml:"id"`
	Name        string       `yaml:"name"`
	AdminUp     bool         `yaml:"admin_up"`
	IngressVlan model.VlanID `yaml:"ingress_vlan"`
}

// InterfaceConfig is one routed interface.
type InterfaceConfig struct {
	ID     model.InterfaceID `yaml:"id"`
	Name   string            `yaml:"name"`
	VlanID model.VlanID      `yaml:"vlan"`
	MAC    string            `yaml:"mac"`
	MTU    uint32            `yaml:"mtu"`
}

// AclConfig is one access-control entry. Empty prefixes match anything.
type AclConfig struct {
	ID           model.AclEntryID `yaml:"id"`
	SrcIP        string           `yaml:"src_ip"`
	DstIP        string           `yaml:"dst_ip"`
	L4SrcPort    uint16           `yaml:"l4_src_port"`
	L4DstPort    uint16           `yaml:"l4_dst_port"`
	Proto        uint8            `yaml:"proto"`
	TCPFlags     uint8            `yaml:"tcp_flags"`
	TCPFlagsMask uint8            `yaml:"tcp_flags_mask"`
	Action       string           `yaml:"action"`
}

const (
	defaultSwitchID          = "switch0"
	defaultReconcileInterval = 30 * time.Second
	defaultStatsInterval     = 10 * time.Second
	defaultGRPCAddr          = ":50051"
	defaultMetricsAddr       = ":9100"
	defaultInterfaceMTU      = 9000
)

// Default returns a configuration with no ports and the fake backend.
func Default() Config {
	return Config{
		SwitchID:          defaultSwitchID,
		Backend:           BackendFake,
		DefaultVlan:       model.DefaultVlan,
		ReconcileInterval: defaultReconcileInterval,
		StatsInterval:     defaultStatsInterval,
		GRPCAddr:          defaultGRPCAddr,
		MetricsAddr:       defaultMetricsAddr,
		Log:               LogConfig{Level: "info", Format: "text"},
		Tracing:           observability.TracingConfigFromEnv(),
	}
}

// LoadFile reads the YAML file at path over the defaults, then applies
// environment overrides and fills anything left unset.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile for in-memory YAML.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("SWITCH_AGENT_BACKEND")); v != "" {
		c.Backend = Backend(v)
	}
	if v := strings.TrimSpace(os.Getenv("SWITCH_AGENT_LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
}

// ApplyDefaults fills unset fields. Ports without an ingress VLAN get the
// switch default VLAN.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.SwitchID) == "" {
		c.SwitchID = defaultSwitchID
	}
	c.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	if c.Backend == "" {
		c.Backend = BackendFake
	}
	if c.DefaultVlan == 0 {
		c.DefaultVlan = model.DefaultVlan
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = defaultReconcileInterval
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = defaultStatsInterval
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = defaultGRPCAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
	for i := range c.Ports {
		if c.Ports[i].IngressVlan == 0 {
			c.Ports[i].IngressVlan = c.DefaultVlan
		}
	}
	for i := range c.Interfaces {
		if c.Interfaces[i].MTU == 0 {
			c.Interfaces[i].MTU = defaultInterfaceMTU
		}
	}
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	switch c.Backend {
	case BackendFake, BackendNetdev:
	default:
		add("unknown backend %q", c.Backend)
	}
	if !c.DefaultVlan.Valid() {
		add("default_vlan %d out of range 1..4094", c.DefaultVlan)
	}

	portIDs := map[model.PortID]bool{}
	portNames := map[string]bool{}
	for _, p := range c.Ports {
		if portIDs[p.ID] {
			add("duplicate port id %d", p.ID)
		}
		portIDs[p.ID] = true
		if p.Name == "" {
			add("port %d has no name", p.ID)
		} else if portNames[p.Name] {
			add("duplicate port name %q", p.Name)
		}
		portNames[p.Name] = true
		if !p.IngressVlan.Valid() {
			add("port %d ingress_vlan %d out of range 1..4094", p.ID, p.IngressVlan)
		}
	}

	intfIDs := map[model.InterfaceID]bool{}
	for _, i := range c.Interfaces {
		if intfIDs[i.ID] {
			add("duplicate interface id %d", i.ID)
		}
		intfIDs[i.ID] = true
		if !i.VlanID.Valid() {
			add("interface %d vlan %d out of range 1..4094", i.ID, i.VlanID)
		}
		if i.MAC != "" {
			if hw, err := net.ParseMAC(i.MAC); err != nil || len(hw) != 6 {
				add("interface %d mac %q is not a 48-bit address", i.ID, i.MAC)
			}
		}
	}

	aclIDs := map[model.AclEntryID]bool{}
	for _, a := range c.ACLs {
		if aclIDs[a.ID] {
			add("duplicate acl id %d", a.ID)
		}
		aclIDs[a.ID] = true
		if _, err := a.entry(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// PortNames lists the hardware port names in configuration order.
func (c *Config) PortNames() []string {
	names := make([]string, len(c.Ports))
	for i, p := range c.Ports {
		names[i] = p.Name
	}
	return names
}

// DesiredState builds the configuration tree the agent should program.
func (c *Config) DesiredState() (*model.SwitchState, error) {
	s := model.NewSwitchState()
	for _, p := range c.Ports {
		s = s.WithPort(model.NewPort(p.ID, p.Name).
			WithAdminUp(p.AdminUp).
			WithIngressVlan(p.IngressVlan))
	}
	for _, i := range c.Interfaces {
		intf, err := model.InterfaceFromFields(model.InterfaceFields{
			ID:     i.ID,
			Name:   i.Name,
			VlanID: i.VlanID,
			MAC:    i.MAC,
			MTU:    i.MTU,
		})
		if err != nil {
			return nil, err
		}
		s = s.WithInterface(intf)
	}
	for _, a := range c.ACLs {
		e, err := a.entry()
		if err != nil {
			return nil, err
		}
		s = s.WithAclEntry(e)
	}
	return s, nil
}

func (a AclConfig) entry() (*model.AclEntry, error) {
	src, err := parsePrefix(a.SrcIP)
	if err != nil {
		return nil, fmt.Errorf("acl %d src_ip: %w", a.ID, err)
	}
	dst, err := parsePrefix(a.DstIP)
	if err != nil {
		return nil, fmt.Errorf("acl %d dst_ip: %w", a.ID, err)
	}
	action, err := model.ParseAclAction(a.Action)
	if err != nil {
		return nil, fmt.Errorf("acl %d: %w", a.ID, err)
	}
	return model.NewAclEntry(a.ID).
		WithSrcIP(src).
		WithDstIP(dst).
		WithL4SrcPort(a.L4SrcPort).
		WithL4DstPort(a.L4DstPort).
		WithProto(a.Proto).
		WithTCPFlags(a.TCPFlags, a.TCPFlagsMask).
		WithAction(action), nil
}

// parsePrefix accepts CIDR notation or a bare address, which is taken as a
// host route.
func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, nil
	}
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
