// Package jobdata translates between the scheduler's generic job data map and the structured
// HTTP-dispatch view used by forms and detail displays. The map carries three reserved keys
// (method, url and body), everything else is an additional property.
package jobdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// reserved keys of the job data map
const (
	KeyMethod = "method"
	KeyURL    = "url"
	KeyBody   = "body"
)

// DefaultMethod is used when the map has no method or an empty one
const DefaultMethod = "GET"

// HeaderPrefix marks additional properties sent as request headers by the remote dispatcher
const HeaderPrefix = "header."

// DataMap is the wire representation of a job data map
type DataMap map[string]string

// Property is a single additional (non-reserved) key/value pair
type Property struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Fields is the structured view of a job data map
type Fields struct {
	Method string
	URL    string
	Body   string
	Props  []Property
}

// IsReserved reports whether the key is one of the reserved dispatch keys
func IsReserved(key string) bool {
	switch key {
	case KeyMethod, KeyURL, KeyBody:
		return true
	}
	return false
}

// Decode extracts dispatch fields from the map. Additional properties are sorted by key,
// so the result is deterministic for a given map content.
func Decode(m DataMap) Fields {
	res := Fields{Method: m[KeyMethod], URL: m[KeyURL], Body: m[KeyBody]}
	if res.Method == "" {
		res.Method = DefaultMethod
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if IsReserved(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res.Props = make([]Property, 0, len(keys))
	for _, k := range keys {
		res.Props = append(res.Props, Property{Key: k, Value: m[k]})
	}
	return res
}

// Encode builds the wire map. Reserved keys are always set, even if empty. Properties are stored
// under their trimmed key and skipped if the trimmed key is empty. A property colliding with a
// reserved key never overrides the reserved value.
func Encode(f Fields) DataMap {
	res := DataMap{KeyMethod: f.Method, KeyURL: f.URL, KeyBody: f.Body}
	for _, p := range f.Props {
		key := strings.TrimSpace(p.Key)
		if key == "" || IsReserved(key) {
			continue
		}
		res[key] = p.Value
	}
	return res
}

// Headers returns properties with the header prefix, keyed by header name
func (f Fields) Headers() map[string]string {
	res := map[string]string{}
	for _, p := range f.Props {
		if name, ok := strings.CutPrefix(p.Key, HeaderPrefix); ok && name != "" {
			res[name] = p.Value
		}
	}
	return res
}

// UnmarshalJSON accepts any JSON object and converts every value to a string.
// Strings are taken as is, null becomes empty, everything else keeps its compact JSON text.
func (d *DataMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("job data map is not an object: %w", err)
	}

	res := make(DataMap, len(raw))
	for k, v := range raw {
		res[k] = stringify(v)
	}
	*d = res
	return nil
}

func stringify(v json.RawMessage) string {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	buf := bytes.Buffer{}
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
