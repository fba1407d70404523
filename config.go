package authz

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the declarative seed format: policies, roles, memberships,
// service grants, and engine tuning in one document.
type Config struct {
	Version     uint16          `json:"version" yaml:"version"`
	Policies    []Policy        `json:"policies" yaml:"policies"`
	Roles       []Role          `json:"roles" yaml:"roles"`
	Memberships []Membership    `json:"memberships" yaml:"memberships"`
	Services    []ServiceGrants `json:"services" yaml:"services"`
	Engine      EngineConfig    `json:"engine" yaml:"engine"`
}

// Membership assigns a role to a user.
type Membership struct {
	UserID string `json:"user_id" yaml:"user_id"`
	RoleID string `json:"role_id" yaml:"role_id"`
}

// ServiceGrants lists the direct grants of one service principal.
type ServiceGrants struct {
	ServiceID string  `json:"service_id" yaml:"service_id"`
	Grants    []Grant `json:"grants" yaml:"grants"`
}

// EngineConfig tunes the engine and router.
type EngineConfig struct {
	CacheNumCounters int64  `json:"cache_num_counters" yaml:"cache_num_counters"`
	CacheMaxCost     int64  `json:"cache_max_cost" yaml:"cache_max_cost"`
	CacheDisabled    bool   `json:"cache_disabled" yaml:"cache_disabled"`
	AuditBuffer      int    `json:"audit_buffer" yaml:"audit_buffer"`
	CombineMode      string `json:"combine_mode" yaml:"combine_mode"` // "veto" or "override"
}

// EngineOptions translates the config into engine options.
func (c EngineConfig) EngineOptions() []EngineOption {
	var opts []EngineOption
	if c.CacheDisabled {
		opts = append(opts, WithoutConditionCache())
	} else if c.CacheNumCounters > 0 && c.CacheMaxCost > 0 {
		opts = append(opts, WithConditionCache(c.CacheNumCounters, c.CacheMaxCost))
	}
	return opts
}

// RouterOptions translates the config into router options. An unknown
// combine mode falls back to veto, the restrictive default.
func (c EngineConfig) RouterOptions() []RouterOption {
	var opts []RouterOption
	if mode, err := ParseCombineMode(c.CombineMode); err == nil {
		opts = append(opts, WithCombineMode(mode))
	}
	if c.AuditBuffer > 0 {
		opts = append(opts, WithAuditBuffer(c.AuditBuffer))
	}
	return opts
}

func ParseCombineMode(s string) (CombineMode, error) {
	switch s {
	case "", "veto":
		return CombineVeto, nil
	case "override":
		return CombineOverride, nil
	}
	return CombineVeto, fmt.Errorf("unknown combine mode %q", s)
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBinary loads from the compact binary format.
func (l *ConfigLoader) LoadBinary(data []byte) (*Config, error) {
	return decodeBinaryConfig(bytes.NewReader(data))
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate reports every problem in the document at once: duplicate or
// empty names, unknown effects, unparseable conditions, unknown combine
// mode, and memberships or grants with missing identifiers.
func (c *Config) Validate() error {
	var errs []error

	policyNames := make(map[string]bool, len(c.Policies))
	for i := range c.Policies {
		p := &c.Policies[i]
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("policy %d: empty name", i))
			continue
		}
		if policyNames[p.Name] {
			errs = append(errs, fmt.Errorf("policy %s: duplicate name", p.Name))
		}
		policyNames[p.Name] = true
		if _, err := ParseEffect(string(p.Effect)); err != nil {
			errs = append(errs, fmt.Errorf("policy %s: %w", p.Name, err))
		}
		if _, err := parseCondition(p.Condition, nil); err != nil {
			errs = append(errs, fmt.Errorf("policy %s: %w", p.Name, err))
		}
	}

	roleIDs := make(map[string]bool, len(c.Roles))
	for i := range c.Roles {
		r := &c.Roles[i]
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("role %d: empty id", i))
			continue
		}
		if roleIDs[r.ID] {
			errs = append(errs, fmt.Errorf("role %s: duplicate id", r.ID))
		}
		roleIDs[r.ID] = true
	}

	for _, m := range c.Memberships {
		if m.UserID == "" || m.RoleID == "" {
			errs = append(errs, fmt.Errorf("membership %s -> %s: empty identifier", m.UserID, m.RoleID))
		}
	}
	for _, s := range c.Services {
		if s.ServiceID == "" {
			errs = append(errs, errors.New("service grants with empty service_id"))
		}
		for _, g := range s.Grants {
			if g.Permission == "" {
				errs = append(errs, fmt.Errorf("service %s: grant with empty permission", s.ServiceID))
			}
		}
	}
	if _, err := ParseCombineMode(c.Engine.CombineMode); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stores bundles the store set ApplyConfig seeds.
type Stores struct {
	Policies    PolicyStore
	Roles       RoleStore
	Memberships MembershipStore
	Grants      GrantStore
}

// ApplyConfig upserts the document into the stores. Nil store fields skip
// their section, so a policy-only deployment can apply a policy-only file.
func ApplyConfig(ctx context.Context, cfg *Config, st Stores) error {
	if st.Policies != nil {
		for i := range cfg.Policies {
			p := cfg.Policies[i]
			if _, err := st.Policies.GetPolicy(ctx, p.Name); err != nil {
				if err := st.Policies.CreatePolicy(ctx, &p); err != nil {
					return fmt.Errorf("create policy %s: %w", p.Name, err)
				}
			} else {
				if err := st.Policies.UpdatePolicy(ctx, &p); err != nil {
					return fmt.Errorf("update policy %s: %w", p.Name, err)
				}
			}
		}
	}

	if st.Roles != nil {
		for i := range cfg.Roles {
			r := cfg.Roles[i]
			if _, err := st.Roles.GetRole(ctx, r.ID); err != nil {
				if err := st.Roles.CreateRole(ctx, &r); err != nil {
					return fmt.Errorf("create role %s: %w", r.ID, err)
				}
			} else {
				if err := st.Roles.UpdateRole(ctx, &r); err != nil {
					return fmt.Errorf("update role %s: %w", r.ID, err)
				}
			}
		}
	}

	if st.Memberships != nil {
		for _, m := range cfg.Memberships {
			if err := st.Memberships.AssignRole(ctx, m.UserID, m.RoleID); err != nil {
				return fmt.Errorf("assign role %s to %s: %w", m.RoleID, m.UserID, err)
			}
		}
	}

	if st.Grants != nil {
		for _, s := range cfg.Services {
			for _, g := range s.Grants {
				if err := st.Grants.GrantPermission(ctx, s.ServiceID, g); err != nil {
					return fmt.Errorf("grant %s to %s: %w", g.Permission, s.ServiceID, err)
				}
			}
		}
	}
	return nil
}

// ============================================================================
// BINARY CONFIG FORMAT
// ============================================================================

// Header: magic(2) + format version(2) + config version(2), then
// tag-length-value sections.
const (
	binaryMagic   = 0x415A // "AZ"
	binaryVersion = 1
)

const (
	sectionPolicies    = 0x01
	sectionRoles       = 0x02
	sectionMemberships = 0x03
	sectionServices    = 0x04
	sectionEngine      = 0x05
)

// EncodeBinaryConfig encodes config to the binary format.
func EncodeBinaryConfig(cfg *Config) ([]byte, error) {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, uint16(binaryMagic))
	binary.Write(buf, binary.LittleEndian, uint16(binaryVersion))
	binary.Write(buf, binary.LittleEndian, cfg.Version)

	writeSection(buf, sectionPolicies, func(b *bytes.Buffer) { encodePolicies(b, cfg.Policies) })
	writeSection(buf, sectionRoles, func(b *bytes.Buffer) { encodeRoles(b, cfg.Roles) })
	writeSection(buf, sectionMemberships, func(b *bytes.Buffer) { encodeMemberships(b, cfg.Memberships) })
	writeSection(buf, sectionServices, func(b *bytes.Buffer) { encodeServices(b, cfg.Services) })
	writeSection(buf, sectionEngine, func(b *bytes.Buffer) { encodeEngineConfig(b, &cfg.Engine) })
	return buf.Bytes(), nil
}

func decodeBinaryConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}

	var magic, ver, cfgVer uint16
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	binary.Read(r, binary.LittleEndian, &ver)
	binary.Read(r, binary.LittleEndian, &cfgVer)
	if magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	if ver != binaryVersion {
		return nil, fmt.Errorf("unsupported format version: %d", ver)
	}
	cfg.Version = cfgVer

	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}

		switch tag {
		case sectionPolicies:
			cfg.Policies = decodePolicies(data)
		case sectionRoles:
			cfg.Roles = decodeRoles(data)
		case sectionMemberships:
			cfg.Memberships = decodeMemberships(data)
		case sectionServices:
			cfg.Services = decodeServices(data)
		case sectionEngine:
			cfg.Engine = decodeEngineConfig(data)
		}
	}
	return cfg, nil
}

func writeSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) string {
	var l uint16
	binary.Read(r, binary.LittleEndian, &l)
	b := make([]byte, l)
	r.Read(b)
	return string(b)
}

func writeLongString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readLongString(r *bytes.Reader) string {
	var l uint32
	binary.Read(r, binary.LittleEndian, &l)
	b := make([]byte, l)
	io.ReadFull(r, b)
	return string(b)
}

func encodePolicies(buf *bytes.Buffer, policies []Policy) {
	binary.Write(buf, binary.LittleEndian, uint16(len(policies)))
	for i := range policies {
		p := &policies[i]
		writeString(buf, p.Name)
		buf.WriteByte(map[Effect]byte{EffectAllow: 1, EffectDeny: 2}[p.Effect])
		// conditions may approach the 10 KiB limit, use a long string
		writeLongString(buf, p.Condition)
		buf.WriteByte(map[bool]byte{true: 1, false: 0}[p.Active])
		binary.Write(buf, binary.LittleEndian, int32(p.Version))
	}
}

func decodePolicies(data []byte) []Policy {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	policies := make([]Policy, count)
	for i := range policies {
		p := &policies[i]
		p.Name = readString(r)
		eff, _ := r.ReadByte()
		p.Effect = map[byte]Effect{1: EffectAllow, 2: EffectDeny}[eff]
		p.Condition = readLongString(r)
		act, _ := r.ReadByte()
		p.Active = act == 1
		var ver int32
		binary.Read(r, binary.LittleEndian, &ver)
		p.Version = int(ver)
	}
	return policies
}

func encodeRoles(buf *bytes.Buffer, roles []Role) {
	binary.Write(buf, binary.LittleEndian, uint16(len(roles)))
	for i := range roles {
		role := &roles[i]
		writeString(buf, role.ID)
		writeString(buf, role.Name)
		binary.Write(buf, binary.LittleEndian, uint16(len(role.Permissions)))
		for _, perm := range role.Permissions {
			writeString(buf, perm)
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(role.Inherits)))
		for _, inh := range role.Inherits {
			writeString(buf, inh)
		}
	}
}

func decodeRoles(data []byte) []Role {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	roles := make([]Role, count)
	for i := range roles {
		role := &roles[i]
		role.ID = readString(r)
		role.Name = readString(r)
		var permCount uint16
		binary.Read(r, binary.LittleEndian, &permCount)
		role.Permissions = make([]string, permCount)
		for j := range role.Permissions {
			role.Permissions[j] = readString(r)
		}
		var inhCount uint16
		binary.Read(r, binary.LittleEndian, &inhCount)
		role.Inherits = make([]string, inhCount)
		for j := range role.Inherits {
			role.Inherits[j] = readString(r)
		}
	}
	return roles
}

func encodeMemberships(buf *bytes.Buffer, memberships []Membership) {
	binary.Write(buf, binary.LittleEndian, uint16(len(memberships)))
	for _, m := range memberships {
		writeString(buf, m.UserID)
		writeString(buf, m.RoleID)
	}
}

func decodeMemberships(data []byte) []Membership {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	memberships := make([]Membership, count)
	for i := range memberships {
		memberships[i].UserID = readString(r)
		memberships[i].RoleID = readString(r)
	}
	return memberships
}

func encodeServices(buf *bytes.Buffer, services []ServiceGrants) {
	binary.Write(buf, binary.LittleEndian, uint16(len(services)))
	for _, s := range services {
		writeString(buf, s.ServiceID)
		binary.Write(buf, binary.LittleEndian, uint16(len(s.Grants)))
		for _, g := range s.Grants {
			writeString(buf, g.Permission)
			writeString(buf, g.ResourcePattern)
		}
	}
}

func decodeServices(data []byte) []ServiceGrants {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	services := make([]ServiceGrants, count)
	for i := range services {
		services[i].ServiceID = readString(r)
		var grantCount uint16
		binary.Read(r, binary.LittleEndian, &grantCount)
		services[i].Grants = make([]Grant, grantCount)
		for j := range services[i].Grants {
			services[i].Grants[j].Permission = readString(r)
			services[i].Grants[j].ResourcePattern = readString(r)
		}
	}
	return services
}

func encodeEngineConfig(buf *bytes.Buffer, cfg *EngineConfig) {
	binary.Write(buf, binary.LittleEndian, cfg.CacheNumCounters)
	binary.Write(buf, binary.LittleEndian, cfg.CacheMaxCost)
	buf.WriteByte(map[bool]byte{true: 1, false: 0}[cfg.CacheDisabled])
	binary.Write(buf, binary.LittleEndian, int32(cfg.AuditBuffer))
	writeString(buf, cfg.CombineMode)
}

func decodeEngineConfig(data []byte) EngineConfig {
	r := bytes.NewReader(data)
	cfg := EngineConfig{}
	binary.Read(r, binary.LittleEndian, &cfg.CacheNumCounters)
	binary.Read(r, binary.LittleEndian, &cfg.CacheMaxCost)
	dis, _ := r.ReadByte()
	cfg.CacheDisabled = dis == 1
	var ab int32
	binary.Read(r, binary.LittleEndian, &ab)
	cfg.AuditBuffer = int(ab)
	cfg.CombineMode = readString(r)
	return cfg
}
