package bucket

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/zzyongx/tail2kafka-sub000/internal/transform"
)

// Schema describes how to turn one split input line into a JSON object,
// generalising original_source/src/transform.cc's LuaTransform Lua
// `informat` table (field names, timestamp field/format, optional request
// URI decomposition). The embedded scripting engine that let operators
// write this in Lua is out of scope for this module (spec.md); Schema is
// the Go-native, statically-configured equivalent.
type Schema struct {
	// Fields lists the input field names in column order.
	Fields []string

	// TimestampField names the field holding the record's timestamp.
	TimestampField string

	// RequestField, if non-empty, names an nginx-style "GET /path?q HTTP/1.1"
	// field to decompose into method/uri/querystring/protocol sub-fields.
	RequestField string

	// DeleteRequestField drops the raw RequestField from the output once
	// decomposed, matching the original's delete_request_field default.
	DeleteRequestField bool
}

// Parse splits line and renders it as a JSON-ready map, with the timestamp
// field normalised to ISO-8601 and the request field decomposed if
// configured.
func (s Schema) Parse(line string) (map[string]any, error) {
	fields := transform.SplitFields(line)
	if len(fields) != len(s.Fields) {
		return nil, fmt.Errorf("bucket: line has %d fields, schema expects %d", len(fields), len(s.Fields))
	}

	out := make(map[string]any, len(s.Fields)+4)
	for i, name := range s.Fields {
		out[name] = fields[i]
	}

	if s.TimestampField != "" {
		if raw, ok := out[s.TimestampField].(string); ok {
			if iso, ok := transform.ISO8601(raw); ok {
				out[s.TimestampField] = iso
			}
		}
	}

	if s.RequestField != "" {
		if raw, ok := out[s.RequestField].(string); ok {
			decomposeRequest(raw, out)
			if s.DeleteRequestField {
				delete(out, s.RequestField)
			}
		}
	}

	return out, nil
}

// decomposeRequest splits an nginx-style request line "METHOD URI PROTOCOL"
// into method/uri/querystring/protocol fields on out.
func decomposeRequest(raw string, out map[string]any) {
	parts := strings.SplitN(raw, " ", 3)
	if len(parts) == 0 {
		return
	}
	out["method"] = parts[0]
	if len(parts) > 2 {
		out["protocol"] = parts[2]
	}
	if len(parts) < 2 {
		return
	}

	u, err := url.Parse(parts[1])
	if err != nil {
		out["uri"] = parts[1]
		return
	}
	out["uri"] = u.Path
	if u.RawQuery != "" {
		out["querystring"] = u.RawQuery
	}
}
