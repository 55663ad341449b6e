package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// BearerClient returns an *http.Client that sends token as
// "Authorization: Bearer <token>" on every request, layered over base.
// An empty token returns base unchanged (anonymous call).
func BearerClient(ctx context.Context, base *http.Client, token string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if token == "" {
		return base
	}
	// oauth2 reads the underlying client from the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}
