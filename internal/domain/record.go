package domain

import (
	"bytes"
	"encoding/json"
)

// DataTypeKey is the discriminator column every record exposes.
const DataTypeKey = "data_type"

// Repeated holds the values of a key that appeared more than once in a
// key/value block. Inference unwraps it element-wise instead of treating it
// as an array.
type Repeated []any

// Fields is an insertion-ordered mapping of field name to value. The zero
// value is ready to use.
type Fields struct {
	keys   []string
	values map[string]any
}

// NewFields creates an empty ordered field set with room for size entries.
func NewFields(size int) Fields {
	return Fields{
		keys:   make([]string, 0, size),
		values: make(map[string]any, size),
	}
}

// Set inserts or replaces a value. Replacing keeps the original position.
func (f *Fields) Set(key string, value any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value stored for key.
func (f Fields) Get(key string) (any, bool) {
	value, ok := f.values[key]
	return value, ok
}

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Delete removes key, preserving the order of the remaining entries.
func (f *Fields) Delete(key string) {
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for idx, existing := range f.keys {
		if existing == key {
			f.keys = append(f.keys[:idx], f.keys[idx+1:]...)
			break
		}
	}
}

// Keys returns a copy of the keys in insertion order.
func (f Fields) Keys() []string {
	keys := make([]string, len(f.keys))
	copy(keys, f.keys)
	return keys
}

// Len returns the number of entries.
func (f Fields) Len() int {
	return len(f.keys)
}

// Range calls fn for every entry in order until fn returns false.
func (f Fields) Range(fn func(key string, value any) bool) {
	for _, key := range f.keys {
		if !fn(key, f.values[key]) {
			return
		}
	}
}

// Clone returns a copy that can be mutated independently. Values are shared.
func (f Fields) Clone() Fields {
	clone := NewFields(len(f.keys))
	for _, key := range f.keys {
		clone.Set(key, f.values[key])
	}
	return clone
}

// Map returns the entries as a plain map.
func (f Fields) Map() map[string]any {
	out := make(map[string]any, len(f.keys))
	for _, key := range f.keys {
		out[key] = f.values[key]
	}
	return out
}

// MarshalJSON writes the entries as a JSON object in insertion order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, key := range f.keys {
		if idx > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encodedValue, err := json.Marshal(f.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Provenance records where a record came from and how it was produced.
type Provenance struct {
	SourceFile   string     `json:"source_file,omitempty"`
	Section      SectionTag `json:"section,omitempty"`
	Strategy     string     `json:"strategy,omitempty"`
	WasMalformed bool       `json:"was_malformed"`
}

// Record is one structured observation extracted from a document or supplied
// by a caller.
type Record struct {
	DataType   string
	Fields     Fields
	Provenance Provenance
}

// NewRecord creates an empty record with the given discriminator.
func NewRecord(dataType string) Record {
	return Record{DataType: dataType, Fields: NewFields(8)}
}

// NewRecordFromMap builds a record from a decoded object. A string
// "data_type" entry becomes the discriminator; otherwise fallbackType is used.
// Keys are sorted because Go maps carry no order.
func NewRecordFromMap(values map[string]any, fallbackType string) Record {
	record := NewRecord(fallbackType)
	for _, key := range sortedKeys(values) {
		value := values[key]
		if key == DataTypeKey {
			if dataType, ok := value.(string); ok && dataType != "" {
				record.DataType = dataType
				continue
			}
		}
		record.Fields.Set(key, NormalizeValue(value))
	}
	return record
}

// Set stores a field value on the record.
func (r *Record) Set(key string, value any) {
	r.Fields.Set(key, value)
}

// Get returns a field value.
func (r Record) Get(key string) (any, bool) {
	if key == DataTypeKey {
		return r.DataType, true
	}
	return r.Fields.Get(key)
}

// Columns returns the record's inferable columns: the discriminator first,
// followed by the fields in order.
func (r Record) Columns() Fields {
	columns := NewFields(r.Fields.Len() + 1)
	columns.Set(DataTypeKey, r.DataType)
	r.Fields.Range(func(key string, value any) bool {
		if key != DataTypeKey {
			columns.Set(key, value)
		}
		return true
	})
	return columns
}

// Ordered returns the output view of the record: columns plus repair
// provenance for records that went through JSON decoding.
func (r Record) Ordered() Fields {
	out := r.Columns()
	if r.Provenance.Strategy != "" {
		out.Set("was_malformed", r.Provenance.WasMalformed)
		out.Set("parse_strategy", r.Provenance.Strategy)
	}
	return out
}

// MarshalJSON renders the output view.
func (r Record) MarshalJSON() ([]byte, error) {
	return r.Ordered().MarshalJSON()
}

// Clone returns a copy whose field set can be mutated independently.
func (r Record) Clone() Record {
	return Record{
		DataType:   r.DataType,
		Fields:     r.Fields.Clone(),
		Provenance: r.Provenance,
	}
}
