package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"
)

// Caps on any JSON structure this package writes verbatim or reads
// back. They bound what a hostile plugin can push through the log.
const (
	MaxDepth      = 10
	MaxStringLen  = 10000
	MaxArrayLen   = 1000
	MaxObjectKeys = 100
	MaxRawBytes   = 1 << 20
)

// ErrRecordTooLarge is returned by SafeUnmarshal for over-cap input.
var ErrRecordTooLarge = errors.New("audit record too large")

// truncationMark is appended to strings cut by SanitizeDetails.
const truncationMark = "…[truncated]"

// ValidateStructure strictly checks that v is plain JSON data within
// the caps: nil, bool, string, number, slice, or string-keyed map, and
// nothing else. Anything off-catalog (func, chan, time.Time, custom
// struct) is an error naming the offending path. Use this for values
// that must be written exactly as given; use SanitizeDetails when a
// best-effort rendering is acceptable.
func ValidateStructure(v any) error {
	return validateValue(v, "$", 0)
}

func validateValue(v any, path string, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%s: exceeds maximum nesting depth %d", path, MaxDepth)
	}

	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		return nil
	case string:
		if len(val) > MaxStringLen {
			return fmt.Errorf("%s: string of %d bytes exceeds %d", path, len(val), MaxStringLen)
		}
		return nil
	case json.Number:
		return nil
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case map[string]any:
		if len(val) > MaxObjectKeys {
			return fmt.Errorf("%s: object with %d keys exceeds %d", path, len(val), MaxObjectKeys)
		}
		for k, item := range val {
			if len(k) > MaxStringLen {
				return fmt.Errorf("%s: key of %d bytes exceeds %d", path, len(k), MaxStringLen)
			}
			if err := validateValue(item, path+"."+k, depth+1); err != nil {
				return err
			}
		}
		return nil
	case map[string]string:
		if len(val) > MaxObjectKeys {
			return fmt.Errorf("%s: object with %d keys exceeds %d", path, len(val), MaxObjectKeys)
		}
		for k, item := range val {
			if len(k) > MaxStringLen {
				return fmt.Errorf("%s: key of %d bytes exceeds %d", path, len(k), MaxStringLen)
			}
			if err := validateValue(item, path+"."+k, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	// Typed slices ([]string, []int, ...) reduce to element checks.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() > MaxArrayLen {
			return fmt.Errorf("%s: array of %d elements exceeds %d", path, rv.Len(), MaxArrayLen)
		}
		for i := range rv.Len() {
			elem := rv.Index(i).Interface()
			if err := validateValue(elem, fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("%s: unsupported type %T", path, v)
}

// SanitizeDetails renders a details map into something that always
// survives json.Marshal within the caps. Stringers and timestamps are
// stringified, overlong strings and arrays are truncated, and depth
// overflow collapses to a marker. It never panics and never fails; if
// the input defeats even best-effort conversion, the result says so:
//
//	{"_sanitized": true, "_error": <reason>}
func SanitizeDetails(details map[string]any) (out map[string]any) {
	if details == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			out = map[string]any{
				"_sanitized": true,
				"_error":     fmt.Sprintf("details could not be represented: %v", r),
			}
		}
	}()
	return sanitizeMap(details, 0)
}

func sanitizeMap(m map[string]any, depth int) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > MaxObjectKeys {
		keys = keys[:MaxObjectKeys]
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[truncateString(k)] = sanitizeValue(m[k], depth+1)
	}
	return out
}

func sanitizeValue(v any, depth int) any {
	if depth > MaxDepth {
		return "[max depth exceeded]"
	}

	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		return val
	case string:
		return truncateString(val)
	case json.Number:
		return val
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.String()
	case error:
		return truncateString(val.Error())
	case fmt.Stringer:
		return truncateString(val.String())
	case map[string]any:
		return sanitizeMap(val, depth)
	case map[string]string:
		converted := make(map[string]any, len(val))
		for k, s := range val {
			converted[k] = s
		}
		return sanitizeMap(converted, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		if n > MaxArrayLen {
			n = MaxArrayLen
		}
		out := make([]any, n)
		for i := range n {
			out[i] = sanitizeValue(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Map:
		converted := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			converted[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return sanitizeMap(converted, depth)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		// Dereferencing counts as a level so pointer cycles terminate.
		return sanitizeValue(rv.Elem().Interface(), depth+1)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("[unsupported %T]", v)
	}

	// Structs and everything else: render and truncate.
	return truncateString(fmt.Sprintf("%v", v))
}

// truncateString caps s at MaxStringLen bytes, cutting on a rune
// boundary and marking the cut.
func truncateString(s string) string {
	if len(s) <= MaxStringLen {
		return s
	}
	cut := MaxStringLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMark
}

// SafeUnmarshal is the only JSON entry point for data read back from
// the audit log. It refuses over-size input before decoding, keeps
// numbers as json.Number, rejects trailing data, and then validates
// the decoded structure against the caps.
func SafeUnmarshal(data []byte) (any, error) {
	if len(data) > MaxRawBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrRecordTooLarge, len(data), MaxRawBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding audit record: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	if err := ValidateStructure(v); err != nil {
		return nil, fmt.Errorf("audit record exceeds caps: %w", err)
	}
	return v, nil
}
