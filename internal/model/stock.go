package model

import (
	"encoding/json"
	"errors"
)

// StockUpdate is one inventory feed message.
type StockUpdate struct {
	ProductID ID  `json:"productId"`
	NewStock  int `json:"newStock"`
}

// UnmarshalJSON rejects messages missing either field, so a partial payload
// is treated as malformed instead of a zero stock value.
func (u *StockUpdate) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductID ID   `json:"productId"`
		NewStock  *int `json:"newStock"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ProductID == "" {
		return errors.New("model: stock update has no productId")
	}
	if raw.NewStock == nil {
		return errors.New("model: stock update has no newStock")
	}
	u.ProductID = raw.ProductID
	u.NewStock = *raw.NewStock
	return nil
}
