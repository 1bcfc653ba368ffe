package authz

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/interlock-labs/conduit/pkg/api"
)

// Membership is one organization the token subject belongs to.
type Membership struct {
	OrganizationID string `json:"org_id"`
	Role           string `json:"role"`
	Status         string `json:"status"`
}

// Claims are the JWT claims expected on inbound requests.
type Claims struct {
	jwt.RegisteredClaims
	Memberships         []Membership `json:"memberships"`
	DefaultOrganization string       `json:"default_org,omitempty"`
}

// Verifier validates bearer tokens and resolves organization context.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	if len(secret) == 0 {
		return nil
	}
	return &Verifier{secret: secret}
}

// Verify parses and validates a token string.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, fmt.Errorf("verifier uninitialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// resolveIdentity selects the active organization. Explicit
// X-Organization-Id wins, then the token's default, then the first
// membership.
func resolveIdentity(claims *Claims, requestedOrg string) (*Identity, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}

	target := requestedOrg
	if target == "" {
		target = claims.DefaultOrganization
	}
	if target == "" && len(claims.Memberships) > 0 {
		target = claims.Memberships[0].OrganizationID
	}

	var selected *Membership
	for i := range claims.Memberships {
		if claims.Memberships[i].OrganizationID == target {
			selected = &claims.Memberships[i]
			break
		}
	}
	if selected == nil {
		if target == "" {
			return &Identity{UserID: claims.Subject}, nil
		}
		return nil, fmt.Errorf("not a member of organization %s", target)
	}

	return &Identity{
		UserID:             claims.Subject,
		OrganizationID:     selected.OrganizationID,
		OrganizationStatus: selected.Status,
		Role:               selected.Role,
		Permissions:        PermissionsFor(selected.Role),
	}, nil
}

// Middleware authenticates every request and attaches the identity.
// A nil verifier fails closed.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if verifier == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			identity, err := resolveIdentity(claims, r.Header.Get("X-Organization-Id"))
			if err != nil {
				api.WriteForbidden(w, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequirePermission rejects callers whose role lacks the permission.
func RequirePermission(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			api.WriteUnauthorized(w, "")
			return
		}
		if !identity.Can(permission) {
			api.WriteForbidden(w, fmt.Sprintf("Missing permission %s", permission))
			return
		}
		next(w, r)
	}
}

// RequireOrganizationContext rejects callers without an active
// organization.
func RequireOrganizationContext(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok || identity.OrganizationID == "" {
			api.WriteForbidden(w, "Organization context required")
			return
		}
		if identity.OrganizationStatus != "active" {
			api.WriteForbidden(w, "Organization is not active")
			return
		}
		next(w, r)
	}
}
