package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// cursorVersion identifies the serialized cursor layout. Bump when the
// envelope shape changes so old cursors are rejected instead of misread.
const cursorVersion = 1

// indexKey marks a positional cursor used when a query carries no sort keys.
const indexKey = "__index"

// Cursor is an opaque position marker inside an ordered result sequence.
// For ordered queries it holds the sort-key values of the record it points
// at; for unordered queries it holds a positional index. Equality is
// structural.
type Cursor map[string]interface{}

// IndexCursor returns a positional cursor for unordered result sequences.
func IndexCursor(i int) Cursor {
	return Cursor{indexKey: i}
}

// Equal reports structural equality of two cursors.
func (c Cursor) Equal(other Cursor) bool {
	return reflect.DeepEqual(c, other)
}

type cursorEnvelope struct {
	Version  int                    `json:"version"`
	Position map[string]interface{} `json:"position"`
}

// Encode serializes the cursor into a versioned, URL-safe opaque token.
func (c Cursor) Encode() (string, error) {
	raw, err := json.Marshal(cursorEnvelope{Version: cursorVersion, Position: c})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a token produced by Encode. Tokens from a different
// cursor version are rejected.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var env cursorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if env.Version != cursorVersion {
		return nil, fmt.Errorf("decode cursor: unsupported version %d", env.Version)
	}
	return Cursor(env.Position), nil
}

func (c Cursor) clone() Cursor {
	if c == nil {
		return nil
	}
	out := make(Cursor, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (c Cursor) fingerprint() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v,", k, c[k])
	}
	return b.String()
}

func (c Cursor) index() (int, bool) {
	v, ok := c[indexKey]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		// JSON round-trips numbers as float64.
		return int(n), true
	default:
		return 0, false
	}
}
