package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/rpattn/driftetl/internal/domain"
)

var errNotObject = errors.New("value is not an object")

// decodeObject strictly decodes a JSON object, keeping key order.
func decodeObject(data string) (domain.Fields, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return domain.Fields{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return domain.Fields{}, errNotObject
	}

	type entry struct {
		key   string
		value any
	}
	var entries []entry
	literal := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return domain.Fields{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return domain.Fields{}, fmt.Errorf("unexpected object key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return domain.Fields{}, err
		}
		entries = append(entries, entry{key: key, value: domain.NormalizeValue(value)})
		literal[key] = true
	}
	if _, err := dec.Token(); err != nil {
		return domain.Fields{}, err
	}
	if err := ensureEOF(dec); err != nil {
		return domain.Fields{}, err
	}

	// Blank keys are named after their position, the way blank table headers
	// are, so records never carry an empty column.
	fields := domain.NewFields(len(entries))
	for idx, e := range entries {
		key := e.key
		if strings.TrimSpace(key) == "" {
			key = uniqueName(fmt.Sprintf("column_%d", idx+1), func(name string) bool {
				return literal[name] || fields.Has(name)
			})
		}
		fields.Set(key, e.value)
	}
	return fields, nil
}

// uniqueName returns base, or base_<n> for the smallest n >= 2 that taken
// does not report as used.
func uniqueName(base string, taken func(string) bool) string {
	name := base
	for n := 2; taken(name); n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	return name
}

// decodeArray strictly decodes a JSON array and returns its raw elements.
func decodeArray(data string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func ensureEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected trailing data after object")
	}
	return nil
}

// decodeFlowMapping decodes a brace-delimited YAML flow mapping. JSON is a
// subset of it, and it also accepts bare scalar values such as {name: John}.
func decodeFlowMapping(data string) (domain.Fields, error) {
	trimmed := strings.TrimSpace(data)
	if !strings.HasPrefix(trimmed, "{") {
		return domain.Fields{}, errNotObject
	}
	var mapping yaml.MapSlice
	if err := yaml.Unmarshal([]byte(trimmed), &mapping); err != nil {
		return domain.Fields{}, err
	}
	return fieldsFromMapSlice(mapping)
}

// decodeYAMLBlock decodes a block mapping such as a frontmatter body.
func decodeYAMLBlock(data string) (domain.Fields, error) {
	var mapping yaml.MapSlice
	if err := yaml.Unmarshal([]byte(data), &mapping); err != nil {
		return domain.Fields{}, err
	}
	if len(mapping) == 0 {
		return domain.Fields{}, errNotObject
	}
	return fieldsFromMapSlice(mapping)
}

func fieldsFromMapSlice(mapping yaml.MapSlice) (domain.Fields, error) {
	fields := domain.NewFields(len(mapping))
	for _, item := range mapping {
		key := strings.TrimSpace(fmt.Sprint(item.Key))
		if key == "" || item.Key == nil {
			return domain.Fields{}, errors.New("empty mapping key")
		}
		fields.Set(key, domain.NormalizeValue(item.Value))
	}
	return fields, nil
}
