package httpapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is a call, kiosk or officer identifier as sent by the front ends: either a
// JSON number or a numeric string. Anything else decodes to zero, which the
// handlers treat as missing.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	*id = ID(parseID(s))
	return nil
}

// parseID returns 0 for empty, non-numeric, fractional or non-positive input.
func parseID(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0
		}
		n = int64(f)
	}
	if n <= 0 {
		return 0
	}
	return n
}
