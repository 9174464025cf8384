// Package spec resolves the effective calendar specification for one
// request from layered sources: process defaults, an optional remotely
// fetched override document, and the request's query parameters.
package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
)

// Recognized specification keys. Unrecognized keys pass through untouched
// for the rendering layer.
const (
	KeyURL       = "url"
	KeyTimeshift = "timeshift"
	KeyTemplate  = "template"

	// ParamSpecificationURL is the query parameter naming an override
	// specification document.
	ParamSpecificationURL = "specification_url"
)

// Specification is the effective configuration for one aggregate call.
// URLs is always an ordered sequence after resolution, even when the
// source value was a single string.
type Specification struct {
	URLs      []string
	Timeshift int
	Template  string

	// Extra holds pass-through keys consumed only by rendering
	// collaborators. Values keep their resolved shape (scalar or list).
	Extra map[string]any
}

// MarshalJSON renders the specification back to the flat mapping shape the
// frontend consumes.
func (s Specification) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Extra)+3)
	for k, v := range s.Extra {
		m[k] = v
	}
	m[KeyURL] = s.URLs
	m[KeyTimeshift] = s.Timeshift
	m[KeyTemplate] = s.Template
	return json.Marshal(m)
}

// fromMap builds a Specification out of a merged key/value mapping,
// normalizing the recognized keys.
func fromMap(m map[string]any) (Specification, error) {
	out := Specification{
		URLs:  []string{},
		Extra: make(map[string]any),
	}

	for k, v := range m {
		switch k {
		case KeyURL:
			urls, err := toStringList(v)
			if err != nil {
				return Specification{}, fmt.Errorf("specification key %q: %w", k, err)
			}
			out.URLs = urls
		case KeyTimeshift:
			n, err := toInt(v)
			if err != nil {
				return Specification{}, fmt.Errorf("specification key %q: %w", k, err)
			}
			out.Timeshift = n
		case KeyTemplate:
			out.Template = fmt.Sprint(v)
		default:
			out.Extra[k] = v
		}
	}

	return out, nil
}

// toStringList normalizes a scalar or sequence value to []string.
func toStringList(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		if val == "" {
			return []string{}, nil
		}
		return []string{val}, nil
	case []string:
		return append([]string(nil), val...), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("sequence item %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value %v is neither string nor sequence", v)
	}
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		return int(val), nil
	case json.Number:
		n, err := val.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(val)
	default:
		return 0, fmt.Errorf("value %v is not an integer", v)
	}
}

// builtinDefaults is the fallback default specification used when no
// defaults document is configured.
func builtinDefaults() map[string]any {
	return map[string]any{
		KeyURL:       []any{},
		KeyTimeshift: 0,
		KeyTemplate:  "basic",
	}
}

// LoadDefaults reads the default specification document (JSON) from path.
// A missing file yields the built-in defaults; a malformed file is a
// startup error.
func LoadDefaults(path string) (map[string]any, error) {
	if path == "" {
		return builtinDefaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return builtinDefaults(), nil
		}
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("default specification %s: %w", path, err)
	}
	return m, nil
}
