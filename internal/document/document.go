// Package document holds the generic record shape shared by the queue, the
// cache and the remote stores.
//
// Doc serializes time.Time values as tagged objects ({"$date": "..."}) so a
// document written to local storage comes back with its dates typed as
// time.Time rather than strings.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateTag is the key of the tagged object that carries a serialized date.
const DateTag = "$date"

// IDField is the payload key that carries a record id.
const IDField = "id"

// Doc is an untyped key/value record.
type Doc map[string]any

func (d Doc) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return json.Marshal(encodeValue(map[string]any(d)))
}

func (d *Doc) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*d = nil
		return nil
	}
	object, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("document: expected object, got %T", raw)
	}
	decoded, err := decodeObject(object)
	if err != nil {
		return err
	}
	*d = Doc(decoded)
	return nil
}

// Clone returns a deep copy of d.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	return Doc(cloneValue(map[string]any(d)).(map[string]any))
}

// Merge returns a copy of d with every key of overlay set on top.
func (d Doc) Merge(overlay Doc) Doc {
	out := d.Clone()
	if out == nil {
		out = Doc{}
	}
	for key, value := range overlay {
		out[key] = cloneValue(value)
	}
	return out
}

// ID returns the record id carried in the payload, if any.
func (d Doc) ID() (string, bool) {
	value, ok := d[IDField]
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// SplitID separates the record id from the fields to write. The returned
// fields never contain the id key.
func SplitID(d Doc) (string, Doc, bool) {
	id, ok := d.ID()
	fields := d.Clone()
	if fields == nil {
		fields = Doc{}
	}
	delete(fields, IDField)
	return id, fields, ok
}

// Clean returns a copy of d with nil values removed, at every nesting level.
func Clean(d Doc) Doc {
	if d == nil {
		return Doc{}
	}
	return Doc(cleanObject(map[string]any(d)))
}

// ConvertTimes returns a copy of d with every time.Time replaced by
// convert(t). Remote stores use it to produce their native timestamp type.
func ConvertTimes(d Doc, convert func(time.Time) any) Doc {
	if d == nil {
		return nil
	}
	return Doc(convertValue(map[string]any(d), convert).(map[string]any))
}

func encodeValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return map[string]any{DateTag: v.Format(time.RFC3339Nano)}
	case *time.Time:
		if v == nil {
			return nil
		}
		return map[string]any{DateTag: v.Format(time.RFC3339Nano)}
	case Doc:
		return encodeValue(map[string]any(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = encodeValue(item)
		}
		return out
	case []Doc:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = encodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return value
	}
}

func decodeObject(object map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(object))
	for key, item := range object {
		decoded, err := decodeValue(item)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = decoded
	}
	return out, nil
}

func decodeValue(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if tagged, ok := v[DateTag]; ok && len(v) == 1 {
			text, ok := tagged.(string)
			if !ok {
				return nil, fmt.Errorf("malformed %s value %v", DateTag, tagged)
			}
			t, err := time.Parse(time.RFC3339Nano, text)
			if err != nil {
				return nil, fmt.Errorf("parse date: %w", err)
			}
			return t, nil
		}
		return decodeObject(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			decoded, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return value, nil
	}
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case Doc:
		return Doc(cloneValue(map[string]any(v)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

func cleanObject(object map[string]any) map[string]any {
	out := make(map[string]any, len(object))
	for key, item := range object {
		if item == nil {
			continue
		}
		switch v := item.(type) {
		case Doc:
			out[key] = Doc(cleanObject(map[string]any(v)))
		case map[string]any:
			out[key] = cleanObject(v)
		default:
			out[key] = item
		}
	}
	return out
}

func convertValue(value any, convert func(time.Time) any) any {
	switch v := value.(type) {
	case time.Time:
		return convert(v)
	case Doc:
		return convertValue(map[string]any(v), convert)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = convertValue(item, convert)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = convertValue(item, convert)
		}
		return out
	default:
		return value
	}
}
