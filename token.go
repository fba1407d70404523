package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathomlabs/authz/logger"
)

// ============================================================================
// TOKEN VALIDATION
// ============================================================================

// Principal type claim values.
const (
	PrincipalTypeUser    = "USER"
	PrincipalTypeService = "SERVICE"
)

// PrincipalClaims is the verified claim set principals are built from.
// OnBehalfOf carries a propagated user identity on service tokens; such
// tokens yield a combined principal.
type PrincipalClaims struct {
	PrincipalType string   `json:"principal_type,omitempty"`
	ServiceID     string   `json:"service_id,omitempty"`
	OnBehalfOf    string   `json:"on_behalf_of,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	Groups        []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator turns a bearer token into a verified principal. Transport
// middleware consumes this; the router never sees raw tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Principal, error)
}

// JWTValidator verifies signed tokens and maps their claims onto the
// principal variants. Key management stays with the caller through the
// supplied jwt.Keyfunc.
type JWTValidator struct {
	keyfunc  jwt.Keyfunc
	methods  []string
	resolver *PermissionResolver
	grants   GrantStore
	log      logger.Logger
}

type ValidatorOption func(*JWTValidator)

// WithUserResolver resolves user permissions through role memberships
// instead of trusting a permissions claim.
func WithUserResolver(r *PermissionResolver) ValidatorOption {
	return func(v *JWTValidator) { v.resolver = r }
}

// WithServiceGrants loads service grants from a store instead of trusting a
// permissions claim.
func WithServiceGrants(g GrantStore) ValidatorOption {
	return func(v *JWTValidator) { v.grants = g }
}

func WithSigningMethods(methods ...string) ValidatorOption {
	return func(v *JWTValidator) {
		if len(methods) > 0 {
			v.methods = methods
		}
	}
}

func WithValidatorLogger(l logger.Logger) ValidatorOption {
	return func(v *JWTValidator) {
		if l != nil {
			v.log = l
		}
	}
}

func NewJWTValidator(keyfunc jwt.Keyfunc, opts ...ValidatorOption) *JWTValidator {
	v := &JWTValidator{
		keyfunc: keyfunc,
		methods: []string{jwt.SigningMethodHS256.Alg()},
		log:     logger.NewPhusluLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses and verifies the token, then builds the principal for its
// claims. Missing, expired, or unverifiable tokens all come back as
// ErrAuthenticationRequired; store failures during permission resolution
// surface as plain errors.
func (v *JWTValidator) Validate(ctx context.Context, tokenString string) (Principal, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrAuthenticationRequired
	}
	token, err := jwt.ParseWithClaims(tokenString, &PrincipalClaims{}, v.keyfunc, jwt.WithValidMethods(v.methods))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationRequired, err)
	}
	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrAuthenticationRequired)
	}
	return v.principalFrom(ctx, claims)
}

func (v *JWTValidator) principalFrom(ctx context.Context, claims *PrincipalClaims) (Principal, error) {
	switch strings.ToUpper(claims.PrincipalType) {
	case PrincipalTypeService:
		svc, err := v.servicePrincipal(ctx, claims)
		if err != nil {
			return nil, err
		}
		if claims.OnBehalfOf == "" {
			return svc, nil
		}
		user, err := v.userPrincipal(ctx, claims.OnBehalfOf, claims)
		if err != nil {
			return nil, err
		}
		return NewCombinedPrincipal(user, svc)

	case PrincipalTypeUser, "":
		if claims.Subject == "" {
			return nil, fmt.Errorf("%w: token carries no identity", ErrAuthenticationRequired)
		}
		return v.userPrincipal(ctx, claims.Subject, claims)
	}
	return nil, fmt.Errorf("%w: unknown principal type %q", ErrAuthenticationRequired, claims.PrincipalType)
}

func (v *JWTValidator) servicePrincipal(ctx context.Context, claims *PrincipalClaims) (*ServicePrincipal, error) {
	serviceID := claims.ServiceID
	if serviceID == "" {
		serviceID = claims.Subject
	}
	if serviceID == "" {
		return nil, fmt.Errorf("%w: service token carries no identity", ErrAuthenticationRequired)
	}
	var grants GrantSet
	if v.grants != nil {
		stored, err := v.grants.ListGrants(ctx, serviceID)
		if err != nil {
			return nil, fmt.Errorf("load grants for %s: %w", serviceID, err)
		}
		grants = stored
	} else {
		for _, p := range claims.Permissions {
			grants = append(grants, Grant{Permission: p})
		}
	}
	return NewServicePrincipal(serviceID, grants, claimAttributes(claims)), nil
}

func (v *JWTValidator) userPrincipal(ctx context.Context, userID string, claims *PrincipalClaims) (*UserPrincipal, error) {
	var perms PermissionSet
	if v.resolver != nil {
		resolved, err := v.resolver.ResolveUserPermissions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve permissions for %s: %w", userID, err)
		}
		perms = resolved
	} else {
		perms = NewPermissionSet(claims.Permissions...)
	}
	return NewUserPrincipal(userID, perms, claimAttributes(claims)), nil
}

func claimAttributes(claims *PrincipalClaims) map[string]any {
	attrs := map[string]any{}
	if len(claims.Groups) > 0 {
		attrs["groups"] = claims.Groups
	}
	if claims.Issuer != "" {
		attrs["issuer"] = claims.Issuer
	}
	return attrs
}

// HMACKeyfunc returns the keyfunc for HS256-family deployments.
func HMACKeyfunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}

// IssueHS256 signs claims with an HMAC secret. Meant for tests and local
// tooling; production tokens come from the identity provider.
func IssueHS256(secret []byte, claims PrincipalClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
