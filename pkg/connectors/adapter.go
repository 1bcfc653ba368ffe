package connectors

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/interlock-labs/conduit/pkg/credentials"
	"github.com/interlock-labs/conduit/pkg/envelope"
	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/pipeline"
)

// Adapter is the capability set the facade drives. Every adapter returns
// envelopes; no call raises.
type Adapter interface {
	Execute(ctx context.Context, operationID string, params map[string]any) *envelope.Response
	options.Provider
	Client() *pipeline.Client
}

// AuthHeaders builds the pipeline auth producer for the declared scheme.
// Fatal misconfiguration surfaces as an error from the producer, which
// the pipeline converts into an auth failure envelope.
func AuthHeaders(auth Authentication) pipeline.AuthHeaderFunc {
	switch auth.Type {
	case AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-Api-Key"
		}
		return func(ctx context.Context, bag *credentials.Bag) (map[string]string, error) {
			key := bag.GetString(credentials.FieldAPIKey)
			if key == "" {
				return nil, fmt.Errorf("apiKey credential is required")
			}
			return map[string]string{header: key}, nil
		}
	case AuthBasic:
		userField := auth.UsernameField
		if userField == "" {
			userField = credentials.FieldAPIKey
		}
		return func(ctx context.Context, bag *credentials.Bag) (map[string]string, error) {
			user := bag.GetString(userField)
			if user == "" {
				return nil, fmt.Errorf("%s credential is required", userField)
			}
			pass := auth.PasswordSuffix
			if auth.PasswordField != "" {
				pass = bag.GetString(auth.PasswordField)
			}
			token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
			return map[string]string{"Authorization": "Basic " + token}, nil
		}
	case AuthQueryKey:
		// The token travels on the query string; no headers to add.
		return func(ctx context.Context, bag *credentials.Bag) (map[string]string, error) {
			return nil, nil
		}
	default:
		// OAuth2 and plain bearer tokens share the shape.
		return func(ctx context.Context, bag *credentials.Bag) (map[string]string, error) {
			token := bag.GetString(credentials.FieldAccessToken)
			if token == "" {
				return nil, fmt.Errorf("accessToken credential is required")
			}
			return map[string]string{"Authorization": "Bearer " + token}, nil
		}
	}
}
