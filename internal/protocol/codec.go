package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrEmptyLine      = errors.New("protocol: empty line")
	ErrMalformed      = errors.New("protocol: malformed frame")
	ErrMissingCmd     = fmt.Errorf("%w: missing cmd", ErrMalformed)
	ErrReservedField  = errors.New("protocol: field name is reserved")
	ErrDuplicateField = errors.New("protocol: duplicate field")
)

// Field is one named value of a frame. A field holds either a string or,
// when IsList is set, a list of strings.
type Field struct {
	Name   string
	Value  string
	Values []string
	IsList bool
}

func String(name, value string) Field {
	return Field{Name: name, Value: value}
}

func List(name string, values []string) Field {
	return Field{Name: name, Values: values, IsList: true}
}

// Command is a decoded frame. Fields keep the order they had on the wire and
// never include "cmd".
type Command struct {
	Kind   string
	Fields []Field
}

func (c Command) Get(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (c Command) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// String returns the string field name, or "" when it is absent or a list.
func (c Command) String(name string) string {
	f, ok := c.Get(name)
	if !ok || f.IsList {
		return ""
	}
	return f.Value
}

// List returns the list field name, or nil when it is absent or a string.
func (c Command) List(name string) []string {
	f, ok := c.Get(name)
	if !ok || !f.IsList {
		return nil
	}
	return f.Values
}

// Encode renders kind and fields as a single-line JSON object. The result
// has no trailing newline.
func Encode(kind string, fields ...Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"` + FieldCmd + `":`)
	writeJSON(&buf, kind)

	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == FieldCmd {
			return nil, ErrReservedField
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		seen[f.Name] = struct{}{}

		buf.WriteByte(',')
		writeJSON(&buf, f.Name)
		buf.WriteByte(':')
		if f.IsList {
			values := f.Values
			if values == nil {
				values = []string{}
			}
			writeJSON(&buf, values)
		} else {
			writeJSON(&buf, f.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// strings and string slices always marshal
func writeJSON(buf *bytes.Buffer, v any) {
	data, _ := json.Marshal(v)
	buf.Write(data)
}

// Decode parses one frame. Values that are neither strings nor lists of
// strings are skipped. When a key repeats, the last value wins and keeps the
// position of the first occurrence.
func Decode(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Command{}, ErrEmptyLine
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	tok, err := dec.Token()
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Command{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	var (
		cmd    Command
		hasCmd bool
		index  = make(map[string]int)
	)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		if key == FieldCmd {
			if err := json.Unmarshal(raw, &cmd.Kind); err != nil {
				return Command{}, ErrMissingCmd
			}
			hasCmd = true
			continue
		}

		f, ok := decodeField(key, raw)
		if !ok {
			continue
		}
		if i, dup := index[key]; dup {
			cmd.Fields[i] = f
			continue
		}
		index[key] = len(cmd.Fields)
		cmd.Fields = append(cmd.Fields, f)
	}

	if _, err := dec.Token(); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Command{}, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if !hasCmd || cmd.Kind == "" {
		return Command{}, ErrMissingCmd
	}
	return cmd, nil
}

func decodeField(name string, raw json.RawMessage) (Field, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Field{}, false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Field{}, false
		}
		return String(name, s), true
	case '[':
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return Field{}, false
		}
		if list == nil {
			list = []string{}
		}
		return List(name, list), true
	default:
		return Field{}, false
	}
}
