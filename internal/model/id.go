// Package model defines the data structures exchanged with the storefront
// backend and kept in a visitor's session.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a backend identifier. The storefront backend uses numeric ids for
// products, categories and orders and string ids for carts; ID accepts
// either form on decode and always holds the canonical string.
type ID string

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts `42`, `"42"` and `null`.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("model: id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}
