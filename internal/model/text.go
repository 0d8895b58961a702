package model

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultTone is the tone variant rendered when a caller has no preference.
const DefaultTone = 3

// TextKind distinguishes the two shapes a candidate text field can take.
type TextKind int

const (
	// TextPlain is a single plain-text value.
	TextPlain TextKind = iota
	// TextToneVariants is a set of renditions keyed by tone level.
	TextToneVariants
)

// TextField is a tagged variant: either PlainText(string) or
// ToneVariants(map[int]string). On the wire it is a JSON string or an
// object keyed by tone number.
type TextField struct {
	kind  TextKind
	plain string
	tones map[int]string
}

// PlainText builds a plain-text field.
func PlainText(s string) TextField {
	return TextField{kind: TextPlain, plain: s}
}

// ToneVariants builds a tone-keyed field. The map is copied.
func ToneVariants(variants map[int]string) TextField {
	tones := make(map[int]string, len(variants))
	for k, v := range variants {
		tones[k] = v
	}
	return TextField{kind: TextToneVariants, tones: tones}
}

// Kind reports which variant the field holds.
func (t TextField) Kind() TextKind { return t.kind }

// Variants returns a copy of the tone map (nil for plain text).
func (t TextField) Variants() map[int]string {
	if t.kind != TextToneVariants {
		return nil
	}
	out := make(map[int]string, len(t.tones))
	for k, v := range t.tones {
		out[k] = v
	}
	return out
}

// Resolve returns the text to show for the requested tone. Plain text ignores
// the tone. Tone maps fall back to DefaultTone, then to the lowest tone key.
func (t TextField) Resolve(tone int) string {
	if t.kind == TextPlain {
		return t.plain
	}
	if v, ok := t.tones[tone]; ok {
		return v
	}
	if v, ok := t.tones[DefaultTone]; ok {
		return v
	}
	keys := make([]int, 0, len(t.tones))
	for k := range t.tones {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	slices.Sort(keys)
	return t.tones[keys[0]]
}

// String resolves the default tone.
func (t TextField) String() string { return t.Resolve(DefaultTone) }

// IsEmpty reports whether the field has no non-blank text in any variant.
func (t TextField) IsEmpty() bool {
	if t.kind == TextPlain {
		return strings.TrimSpace(t.plain) == ""
	}
	for _, v := range t.tones {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Equal compares two fields variant-for-variant.
func (t TextField) Equal(o TextField) bool {
	if t.kind != o.kind {
		return false
	}
	if t.kind == TextPlain {
		return t.plain == o.plain
	}
	if len(t.tones) != len(o.tones) {
		return false
	}
	for k, v := range t.tones {
		if ov, ok := o.tones[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t TextField) Clone() TextField {
	if t.kind == TextToneVariants {
		return ToneVariants(t.tones)
	}
	return t
}

// MarshalJSON encodes plain text as a string and tone variants as an object.
func (t TextField) MarshalJSON() ([]byte, error) {
	if t.kind == TextPlain {
		return json.Marshal(t.plain)
	}
	m := make(map[string]string, len(t.tones))
	for k, v := range t.tones {
		m[strconv.Itoa(k)] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts null, a string, or an object keyed by tone number.
func (t *TextField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*t = TextField{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: decode text field")
		}
		*t = PlainText(s)
		return nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode tone variants")
	}
	tones, err := parseToneKeys(raw)
	if err != nil {
		return err
	}
	*t = TextField{kind: TextToneVariants, tones: tones}
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (t TextField) MarshalYAML() (any, error) {
	if t.kind == TextPlain {
		return t.plain, nil
	}
	return t.Variants(), nil
}

// UnmarshalYAML accepts a scalar or a mapping keyed by tone number.
func (t *TextField) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*t = TextField{}
			return nil
		}
		*t = PlainText(node.Value)
		return nil
	case yaml.MappingNode:
		var raw map[string]string
		if err := node.Decode(&raw); err != nil {
			return eris.Wrap(err, "model: decode tone variants")
		}
		tones, err := parseToneKeys(raw)
		if err != nil {
			return err
		}
		*t = TextField{kind: TextToneVariants, tones: tones}
		return nil
	default:
		return eris.Errorf("model: unsupported yaml node for text field at line %d", node.Line)
	}
}

func parseToneKeys(raw map[string]string) (map[int]string, error) {
	tones := make(map[int]string, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, eris.Wrapf(err, "model: tone key %q", k)
		}
		tones[n] = v
	}
	return tones, nil
}

// OptionalText is a nullable scalar from model output. Numbers and booleans
// are rendered as text; null leaves Set false.
type OptionalText struct {
	Value string
	Set   bool
}

// Text builds a set OptionalText.
func Text(s string) OptionalText { return OptionalText{Value: s, Set: true} }

// Present reports whether the value carries non-blank text.
func (o OptionalText) Present() bool {
	return o.Set && strings.TrimSpace(o.Value) != ""
}

// MarshalJSON encodes unset values as null.
func (o OptionalText) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON accepts null, strings, numbers, and booleans.
func (o *OptionalText) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null" || trimmed == "":
		*o = OptionalText{}
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: decode optional text")
		}
		*o = Text(s)
	case trimmed == "true" || trimmed == "false":
		*o = Text(trimmed)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return eris.Wrapf(err, "model: optional text must be a scalar, got %.40s", trimmed)
		}
		*o = Text(n.String())
	}
	return nil
}
