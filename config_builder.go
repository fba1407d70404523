package authz

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:     1,
			Policies:    []Policy{},
			Roles:       []Role{},
			Memberships: []Membership{},
			Services:    []ServiceGrants{},
			Engine: EngineConfig{
				CacheNumCounters: 10_000,
				CacheMaxCost:     1 << 20,
				AuditBuffer:      1024,
				CombineMode:      "veto",
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) AddPolicy(p *Policy) *ConfigBuilder {
	b.cfg.Policies = append(b.cfg.Policies, *p)
	return b
}

func (b *ConfigBuilder) AddRole(r *Role) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, *r)
	return b
}

func (b *ConfigBuilder) AddMembership(userID, roleID string) *ConfigBuilder {
	b.cfg.Memberships = append(b.cfg.Memberships, Membership{UserID: userID, RoleID: roleID})
	return b
}

func (b *ConfigBuilder) AddServiceGrant(serviceID string, grants ...Grant) *ConfigBuilder {
	for i := range b.cfg.Services {
		if b.cfg.Services[i].ServiceID == serviceID {
			b.cfg.Services[i].Grants = append(b.cfg.Services[i].Grants, grants...)
			return b
		}
	}
	b.cfg.Services = append(b.cfg.Services, ServiceGrants{ServiceID: serviceID, Grants: grants})
	return b
}

func (b *ConfigBuilder) Engine(cfg EngineConfig) *ConfigBuilder {
	b.cfg.Engine = cfg
	return b
}

func (b *ConfigBuilder) CombineMode(mode string) *ConfigBuilder {
	b.cfg.Engine.CombineMode = mode
	return b
}

func (b *ConfigBuilder) Build() *Config { return b.cfg }
