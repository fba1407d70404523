package authz

import (
	"strings"
	"testing"
)

func validTestConfig() *Config {
	return NewConfigBuilder().
		Version(3).
		AddPolicy(NewPolicyBuilder().Name("tenant-isolation").Allow().
			Condition(Eq("subject.tenant", "acme")).Build()).
		AddPolicy(NewPolicyBuilder().Name("block-archived").Deny().Version(2).
			Condition(Eq("resource.status", "ARCHIVED")).Build()).
		AddRole(NewRoleBuilder().ID("viewer").Name("Viewer").Permissions("document:read").Build()).
		AddRole(NewRoleBuilder().ID("editor").Name("Editor").Permissions("document:write").Inherits("viewer").Build()).
		AddMembership("42", "editor").
		AddServiceGrant("billing", Grant{Permission: "invoice:read", ResourcePattern: "billing:*"}).
		CombineMode("veto").
		Build()
}

func TestConfigValidate(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(cfg *Config)
		wantMsg string
	}{
		{
			"duplicate policy name",
			func(cfg *Config) { cfg.Policies = append(cfg.Policies, cfg.Policies[0]) },
			"duplicate name",
		},
		{
			"unknown effect",
			func(cfg *Config) { cfg.Policies[0].Effect = "PERHAPS" },
			"unknown effect",
		},
		{
			"broken condition",
			func(cfg *Config) { cfg.Policies[0].Condition = `{"eq":` },
			"policy tenant-isolation",
		},
		{
			"empty role id",
			func(cfg *Config) { cfg.Roles[0].ID = "" },
			"empty id",
		},
		{
			"empty membership user",
			func(cfg *Config) { cfg.Memberships[0].UserID = "" },
			"empty identifier",
		},
		{
			"empty grant permission",
			func(cfg *Config) { cfg.Services[0].Grants[0].Permission = "" },
			"empty permission",
		},
		{
			"unknown combine mode",
			func(cfg *Config) { cfg.Engine.CombineMode = "majority" },
			"unknown combine mode",
		},
	}
	for _, c := range cases {
		cfg := validTestConfig()
		c.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", c.name)
		}
		if !strings.Contains(err.Error(), c.wantMsg) {
			t.Fatalf("%s: error %q does not mention %q", c.name, err, c.wantMsg)
		}
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	cfg := validTestConfig()
	cfg.Policies[0].Effect = "PERHAPS"
	cfg.Roles[0].ID = ""
	cfg.Engine.CombineMode = "majority"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"unknown effect", "empty id", "unknown combine mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("aggregate error %q misses %q", err, want)
		}
	}
}

func TestConfigYAMLRoundtrip(t *testing.T) {
	cfg := validTestConfig()
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	got, err := NewConfigLoader().LoadYAML(data)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	assertConfigEquivalent(t, cfg, got)
}

func TestConfigJSONRoundtrip(t *testing.T) {
	cfg := validTestConfig()
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	got, err := NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	assertConfigEquivalent(t, cfg, got)
}

func TestConfigBinaryRoundtrip(t *testing.T) {
	cfg := validTestConfig()
	// push the long-string path with a condition well past the short-string range
	cfg.Policies[0].Condition = And(
		Eq("subject.tenant", strings.Repeat("x", 300)),
		In("subject.roles", "admin", "owner", "editor"),
	).JSON()
	cfg.Engine.CacheNumCounters = 5000
	cfg.Engine.CacheMaxCost = 1 << 18
	cfg.Engine.AuditBuffer = 256
	cfg.Engine.CacheDisabled = true

	data, err := EncodeBinaryConfig(cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := NewConfigLoader().LoadBinary(data)
	if err != nil {
		t.Fatalf("load binary: %v", err)
	}
	assertConfigEquivalent(t, cfg, got)
	if got.Engine.CacheNumCounters != 5000 || got.Engine.CacheMaxCost != 1<<18 {
		t.Fatalf("engine cache sizing lost: %+v", got.Engine)
	}
	if got.Engine.AuditBuffer != 256 || !got.Engine.CacheDisabled {
		t.Fatalf("engine flags lost: %+v", got.Engine)
	}
}

func TestLoadBinaryRejectsBadHeader(t *testing.T) {
	loader := NewConfigLoader()
	if _, err := loader.LoadBinary([]byte{0xDE, 0xAD, 0x01, 0x00, 0x01, 0x00}); err == nil {
		t.Fatal("wrong magic must be rejected")
	}
	if _, err := loader.LoadBinary([]byte{0x5A, 0x41, 0xFF, 0x00, 0x01, 0x00}); err == nil {
		t.Fatal("unsupported format version must be rejected")
	}
	if _, err := loader.LoadBinary([]byte{0x5A}); err == nil {
		t.Fatal("truncated header must be rejected")
	}
}

func TestParseCombineMode(t *testing.T) {
	if m, err := ParseCombineMode(""); err != nil || m != CombineVeto {
		t.Fatalf("empty mode: %v, %v", m, err)
	}
	if m, err := ParseCombineMode("override"); err != nil || m != CombineOverride {
		t.Fatalf("override mode: %v, %v", m, err)
	}
	if _, err := ParseCombineMode("majority"); err == nil {
		t.Fatal("unknown mode must error")
	}
}

// assertConfigEquivalent compares the fields every serialization format
// carries. Timestamps are excluded, the binary format drops them.
func assertConfigEquivalent(t *testing.T, want, got *Config) {
	t.Helper()
	if got.Version != want.Version {
		t.Fatalf("version = %d, want %d", got.Version, want.Version)
	}
	if len(got.Policies) != len(want.Policies) {
		t.Fatalf("policies = %d, want %d", len(got.Policies), len(want.Policies))
	}
	for i := range want.Policies {
		w, g := want.Policies[i], got.Policies[i]
		if g.Name != w.Name || g.Effect != w.Effect || g.Condition != w.Condition ||
			g.Active != w.Active || g.Version != w.Version {
			t.Fatalf("policy %d = %+v, want %+v", i, g, w)
		}
	}
	if len(got.Roles) != len(want.Roles) {
		t.Fatalf("roles = %d, want %d", len(got.Roles), len(want.Roles))
	}
	for i := range want.Roles {
		w, g := want.Roles[i], got.Roles[i]
		if g.ID != w.ID || g.Name != w.Name ||
			strings.Join(g.Permissions, ",") != strings.Join(w.Permissions, ",") ||
			strings.Join(g.Inherits, ",") != strings.Join(w.Inherits, ",") {
			t.Fatalf("role %d = %+v, want %+v", i, g, w)
		}
	}
	if len(got.Memberships) != len(want.Memberships) {
		t.Fatalf("memberships = %d, want %d", len(got.Memberships), len(want.Memberships))
	}
	for i := range want.Memberships {
		if got.Memberships[i] != want.Memberships[i] {
			t.Fatalf("membership %d = %+v, want %+v", i, got.Memberships[i], want.Memberships[i])
		}
	}
	if len(got.Services) != len(want.Services) {
		t.Fatalf("services = %d, want %d", len(got.Services), len(want.Services))
	}
	for i := range want.Services {
		w, g := want.Services[i], got.Services[i]
		if g.ServiceID != w.ServiceID || len(g.Grants) != len(w.Grants) {
			t.Fatalf("service %d = %+v, want %+v", i, g, w)
		}
		for j := range w.Grants {
			if g.Grants[j] != w.Grants[j] {
				t.Fatalf("service %d grant %d = %+v, want %+v", i, j, g.Grants[j], w.Grants[j])
			}
		}
	}
	if got.Engine.CombineMode != want.Engine.CombineMode {
		t.Fatalf("combine mode = %q, want %q", got.Engine.CombineMode, want.Engine.CombineMode)
	}
}
