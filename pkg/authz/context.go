package authz

import "context"

// Identity is the resolved caller attached to the request context.
type Identity struct {
	UserID             string
	OrganizationID     string
	OrganizationStatus string
	Role               string
	Permissions        []string
}

// Can reports whether the identity holds the permission.
func (id *Identity) Can(permission string) bool {
	if id == nil {
		return false
	}
	for _, p := range id.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches the identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the identity, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
