package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind classifies how a field is diffed.
type Kind int

const (
	// KindScalar compares string-normalized values.
	KindScalar Kind = iota
	// KindValueList emits one change per added and one per removed value.
	KindValueList
	// KindKeyedList partitions sub-records into created/updated/deleted by
	// a stable per-item identifier and recurses into the matched pairs.
	KindKeyedList
	// KindWrappedFlag unwraps a singleton list before scalar comparison.
	KindWrappedFlag
)

// Field declares how one named field of a record is diffed. Fields absent
// from a schema default to plain scalars.
type Field struct {
	Name string
	Kind Kind

	// DateOnly renders date-valued fields date-only for comparison.
	DateOnly bool

	// Flag marks a two-valued Y/N style field: a transition from
	// empty/absent to FalseValue is treated as no change.
	Flag       bool
	FalseValue string

	// ItemKey and Item describe the sub-records of a KindKeyedList field.
	ItemKey string
	Item    []Field
}

// Schema is the declarative field-kind table consumed by Diff.
type Schema struct {
	fields map[string]Field
}

func NewSchema(fields ...Field) Schema {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		if f.Flag && f.FalseValue == "" {
			f.FalseValue = "N"
		}
		m[f.Name] = f
	}
	return Schema{fields: m}
}

// Housekeeping fields every record carries; never diffed.
var housekeeping = map[string]bool{
	"docId":         true,
	"status":        true,
	"effectiveFrom": true,
	"effectiveTo":   true,
	"source":        true,
}

// Diff structurally compares two records field by field and returns the
// atomic attribute changes between them. Either record may be nil (created
// or deleted object). pathPrefix is prepended to every attribute path.
func (s Schema) Diff(oldRec, newRec any, pathPrefix string) ([]Change, error) {
	oldFields, err := toFieldMap(oldRec)
	if err != nil {
		return nil, err
	}
	newFields, err := toFieldMap(newRec)
	if err != nil {
		return nil, err
	}
	return s.diffMaps(oldFields, newFields, pathPrefix)
}

func (s Schema) diffMaps(oldFields, newFields map[string]any, prefix string) ([]Change, error) {
	var changes []Change
	for _, name := range unionKeys(oldFields, newFields) {
		if housekeeping[name] {
			continue
		}
		spec := s.fields[name]
		path := prefix + name
		oldVal, newVal := oldFields[name], newFields[name]

		switch spec.Kind {
		case KindValueList:
			changes = append(changes, diffValueList(path, oldVal, newVal)...)

		case KindKeyedList:
			sub, err := s.diffKeyedList(spec, path, oldVal, newVal)
			if err != nil {
				return nil, err
			}
			changes = append(changes, sub...)

		case KindWrappedFlag:
			oldVal, newVal = unwrapSingleton(oldVal), unwrapSingleton(newVal)
			fallthrough

		default:
			oldStr := renderScalar(oldVal, spec)
			newStr := renderScalar(newVal, spec)
			if oldStr == newStr {
				continue
			}
			// A flag materializing with its default encoding is not a change.
			if spec.Flag && oldStr == "" && newStr == spec.FalseValue {
				continue
			}
			changes = append(changes, Change{Attribute: path, Old: oldStr, New: newStr})
		}
	}
	return changes, nil
}

func diffValueList(path string, oldVal, newVal any) []Change {
	oldSet := renderedSet(oldVal)
	newSet := renderedSet(newVal)

	var changes []Change
	for _, v := range sortedKeys(newSet) {
		if !oldSet[v] {
			changes = append(changes, Change{Attribute: path, Old: "", New: v})
		}
	}
	for _, v := range sortedKeys(oldSet) {
		if !newSet[v] {
			changes = append(changes, Change{Attribute: path, Old: v, New: ""})
		}
	}
	return changes
}

func (s Schema) diffKeyedList(spec Field, path string, oldVal, newVal any) ([]Change, error) {
	oldItems, err := keyedItems(spec, oldVal)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	newItems, err := keyedItems(spec, newVal)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	itemSchema := NewSchema(spec.Item...)
	var changes []Change
	for _, key := range unionKeys(toAnyMap(oldItems), toAnyMap(newItems)) {
		oldItem, hadOld := oldItems[key]
		newItem, hasNew := newItems[key]
		switch {
		case hadOld && hasNew:
			sub, err := itemSchema.diffMaps(oldItem, newItem, path+".")
			if err != nil {
				return nil, err
			}
			changes = append(changes, sub...)
		case hasNew:
			changes = append(changes, Change{Attribute: path, Old: "", New: key})
		default:
			changes = append(changes, Change{Attribute: path, Old: key, New: ""})
		}
	}
	return changes, nil
}

// keyedItems indexes the sub-records of a keyed list by their identity
// field.
func keyedItems(spec Field, v any) (map[string]map[string]any, error) {
	out := map[string]map[string]any{}
	if v == nil {
		return out, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	for _, item := range list {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected a sub-record, got %T", item)
		}
		key := renderScalar(fields[spec.ItemKey], Field{})
		if key == "" {
			return nil, fmt.Errorf("sub-record missing identity field %q", spec.ItemKey)
		}
		out[key] = fields
	}
	return out, nil
}

func unwrapSingleton(v any) any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	return list[0]
}

// renderScalar normalizes a decoded JSON value for string comparison.
func renderScalar(v any, spec Field) string {
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s = val
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	if spec.DateOnly && len(s) > 10 {
		s = s[:10]
	}
	return s
}

func renderedSet(v any) map[string]bool {
	out := map[string]bool{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		if s := renderScalar(item, Field{}); s != "" {
			out[s] = true
		}
	}
	return out
}

func toFieldMap(rec any) (map[string]any, error) {
	if rec == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record for diff: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode record for diff: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func toAnyMap[V any](m map[string]V) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func unionKeys(a, b map[string]any) []string {
	seen := map[string]bool{}
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
