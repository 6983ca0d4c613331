package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/switchagent/model"
)

const sample = `
switch_id: leaf1
backend: netdev
netns: sw
default_vlan: 10
reconcile_interval: 5s
log:
  level: debug
  format: json
ports:
  - id: 1
    name: eth1
    admin_up: true
  - id: 2
    name: eth2
    ingress_vlan: 20
interfaces:
  - id: 100
    name: vlan20
    vlan: 20
    mac: "02:00:00:00:00:14"
acls:
  - id: 7
    src_ip: 10.0.0.0/24
    dst_ip: 192.0.2.1
    l4_dst_port: 22
    proto: 6
    action: deny
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Backend != BackendNetdev || cfg.Netns != "sw" || cfg.SwitchID != "leaf1" {
		t.Fatalf("unexpected header fields: %+v", cfg)
	}
	if cfg.ReconcileInterval != 5*time.Second {
		t.Fatalf("ReconcileInterval = %v, want 5s", cfg.ReconcileInterval)
	}
	if cfg.StatsInterval != defaultStatsInterval {
		t.Fatalf("StatsInterval = %v, want default", cfg.StatsInterval)
	}
	if cfg.Ports[0].IngressVlan != 10 || cfg.Ports[1].IngressVlan != 20 {
		t.Fatalf("ingress vlans = %d, %d; want 10, 20", cfg.Ports[0].IngressVlan, cfg.Ports[1].IngressVlan)
	}
	if cfg.Interfaces[0].MTU != defaultInterfaceMTU {
		t.Fatalf("interface MTU = %d, want default", cfg.Interfaces[0].MTU)
	}
	if got := cfg.Logging(); got.Level != "debug" || got.Format != "json" {
		t.Fatalf("Logging() = %+v", got)
	}
	if diff := cmp.Diff([]string{"eth1", "eth2"}, cfg.PortNames()); diff != "" {
		t.Fatalf("PortNames mismatch (-want +got):\n%s", diff)
	}
}

func TestDesiredState(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	state, err := cfg.DesiredState()
	if err != nil {
		t.Fatalf("DesiredState: %v", err)
	}

	want := model.SwitchStateFields{
		Ports: []model.PortFields{
			{ID: 1, Name: "eth1", AdminUp: true, IngressVlan: 10},
			{ID: 2, Name: "eth2", IngressVlan: 20},
		},
		Interfaces: []model.InterfaceFields{
			{ID: 100, Name: "vlan20", VlanID: 20, MAC: "02:00:00:00:00:14", MTU: defaultInterfaceMTU},
		},
		Acls: []model.AclEntryFields{{
			ID:        7,
			SrcIP:     netip.MustParsePrefix("10.0.0.0/24"),
			DstIP:     netip.MustParsePrefix("192.0.2.1/32"),
			L4DstPort: 22,
			Proto:     6,
			Action:    model.AclActionDeny,
		}},
	}
	if diff := cmp.Diff(want, state.Fields(), cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })); diff != "" {
		t.Fatalf("DesiredState mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Parse([]byte(`
backend: asic
ports:
  - {id: 1, name: eth1}
  - {id: 1, name: eth1, ingress_vlan: 5000}
interfaces:
  - {id: 3, vlan: 0}
acls:
  - {id: 9, src_ip: not-an-ip}
  - {id: 10, action: drop}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("Validate accepted a broken config")
	}
	for _, want := range []string{
		`unknown backend "asic"`,
		"duplicate port id 1",
		`duplicate port name "eth1"`,
		"ingress_vlan 5000",
		"interface 3 vlan 0",
		"acl 9 src_ip",
		`unknown acl action "drop"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate error missing %q:\n%v", want, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SWITCH_AGENT_BACKEND", "NETDEV")
	t.Setenv("SWITCH_AGENT_LOG_LEVEL", "warn")

	cfg, err := Parse([]byte("backend: fake\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Backend != BackendNetdev {
		t.Fatalf("Backend = %q, want netdev", cfg.Backend)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.Ports) != 2 {
		t.Fatalf("loaded %d ports, want 2", len(cfg.Ports))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadFile on a missing file should fail")
	}
}
