package utils

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString decodes JSON strings, numbers and booleans into their text form.
// Objects, arrays and null decode to "".
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case '{', '[':
		*f = ""
	default:
		*f = FlexString(b)
	}
	return nil
}

func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}
