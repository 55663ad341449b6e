// Package cart resolves which cart a visitor is using, merges the anonymous
// cart into the user's on login and keeps the visible item count current.
package cart

import "github.com/sakif/storefront/internal/model"

// AnonymousKey holds the cart id of a visitor who is not logged in.
const AnonymousKey = "cartId"

// userKeyPrefix + userID holds a logged-in user's cart id. The same key is
// the merge record written when an anonymous cart is carried into a login.
const userKeyPrefix = "savedCartId_"

// UserKey returns the per-user cart key for userID.
func UserKey(userID string) string { return userKeyPrefix + userID }

// ActiveKey returns the storage key that holds the visitor's cart id. It
// depends on the user id only.
func ActiveKey(id model.Identity) string {
	if id.UserID != "" {
		return UserKey(id.UserID)
	}
	return AnonymousKey
}
