package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// TicketID accepts both numeric and string ids from the ticket endpoint.
type TicketID string

func (id *TicketID) UnmarshalJSON(data []byte) error {
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
		*id = TicketID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = TicketID(n.String())
	return nil
}

type TicketType struct {
	ID   TicketID `json:"id"`
	Name string   `json:"name"`
}

// TicketCatalog is the read-only ticket reference data fetched once per
// bulk session. Rows carry ticket names; submissions carry ids.
type TicketCatalog struct {
	types []TicketType
}

func NewTicketCatalog(types []TicketType) TicketCatalog {
	out := make([]TicketType, len(types))
	copy(out, types)
	return TicketCatalog{types: out}
}

func (c TicketCatalog) Types() []TicketType {
	out := make([]TicketType, len(c.types))
	copy(out, c.types)
	return out
}

func (c TicketCatalog) Empty() bool {
	return len(c.types) == 0
}

// Resolve matches an id exactly or a name case-insensitively.
func (c TicketCatalog) Resolve(input string) (TicketType, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TicketType{}, false
	}
	for _, t := range c.types {
		if string(t.ID) == input {
			return t, true
		}
	}
	for _, t := range c.types {
		if strings.EqualFold(t.Name, input) {
			return t, true
		}
	}
	return TicketType{}, false
}

// DisplayName returns the catalog spelling of a row's ticket type, or ""
// when the row holds something the catalog does not know.
func (c TicketCatalog) DisplayName(rowValue string) string {
	if t, ok := c.Resolve(rowValue); ok {
		return t.Name
	}
	return ""
}
