package authz

import "encoding/json"

// Builders provide a fluent API for creating policies, roles and condition
// documents.

// PolicyBuilder builds a Policy
type PolicyBuilder struct {
	p *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{Active: true, Version: 1}}
}

func (b *PolicyBuilder) Name(n string) *PolicyBuilder    { b.p.Name = n; return b }
func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder  { b.p.Effect = e; return b }
func (b *PolicyBuilder) Allow() *PolicyBuilder           { b.p.Effect = EffectAllow; return b }
func (b *PolicyBuilder) Deny() *PolicyBuilder            { b.p.Effect = EffectDeny; return b }
func (b *PolicyBuilder) Active(a bool) *PolicyBuilder    { b.p.Active = a; return b }
func (b *PolicyBuilder) Version(v int) *PolicyBuilder    { b.p.Version = v; return b }
func (b *PolicyBuilder) Condition(c Cond) *PolicyBuilder { b.p.Condition = c.JSON(); return b }
func (b *PolicyBuilder) ConditionText(raw string) *PolicyBuilder {
	b.p.Condition = raw
	return b
}
func (b *PolicyBuilder) Build() *Policy { return b.p }

// RoleBuilder builds a Role
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{r: &Role{Permissions: []string{}, Inherits: []string{}}}
}
func (b *RoleBuilder) ID(id string) *RoleBuilder  { b.r.ID = id; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder { b.r.Name = n; return b }
func (b *RoleBuilder) Permissions(perms ...string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, perms...)
	return b
}
func (b *RoleBuilder) Inherits(ids ...string) *RoleBuilder {
	b.r.Inherits = append(b.r.Inherits, ids...)
	return b
}
func (b *RoleBuilder) Build() *Role { return b.r }

// Cond assembles condition documents without hand-writing JSON. JSON()
// renders the document the parser accepts.
type Cond struct {
	doc map[string]any
}

func And(children ...Cond) Cond { return Cond{doc: map[string]any{"and": condDocs(children)}} }
func Or(children ...Cond) Cond  { return Cond{doc: map[string]any{"or": condDocs(children)}} }
func Not(child Cond) Cond       { return Cond{doc: map[string]any{"not": child.doc}} }

func Eq(path string, literal any) Cond  { return compareCond("eq", path, literal) }
func Ne(path string, literal any) Cond  { return compareCond("ne", path, literal) }
func Gt(path string, literal any) Cond  { return compareCond("gt", path, literal) }
func Gte(path string, literal any) Cond { return compareCond("gte", path, literal) }
func Lt(path string, literal any) Cond  { return compareCond("lt", path, literal) }
func Lte(path string, literal any) Cond { return compareCond("lte", path, literal) }

func In(path string, literals ...any) Cond {
	return Cond{doc: map[string]any{"in": map[string]any{path: literals}}}
}

func compareCond(op, path string, literal any) Cond {
	return Cond{doc: map[string]any{op: map[string]any{path: literal}}}
}

func condDocs(children []Cond) []any {
	docs := make([]any, 0, len(children))
	for _, c := range children {
		docs = append(docs, c.doc)
	}
	return docs
}

// JSON renders the document. Map marshaling sorts keys, so output is
// deterministic for a given tree.
func (c Cond) JSON() string {
	data, err := json.Marshal(c.doc)
	if err != nil {
		return "{}"
	}
	return string(data)
}
