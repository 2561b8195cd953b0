package bridge

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// blockedPayload is one /blocked entry. Some bridges send numeric ids.
type blockedPayload struct {
	Type  string `json:"type"`
	ID    feedID `json:"id"`
	Label string `json:"label"`
}

// feedID decodes a JSON string or number into its textual form. A missing or
// null id stays empty so feed validation reports it.
type feedID string

func (id *feedID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*id = ""
	case string:
		*id = feedID(x)
	case json.Number:
		*id = feedID(x.String())
	default:
		return fmt.Errorf("id must be a string or a number, got %s", data)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	v := strings.TrimSpace(*s)
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(f *float64) sql.NullInt64 {
	if f == nil || math.IsNaN(*f) {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(math.Round(*f)), Valid: true}
}
