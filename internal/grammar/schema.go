package grammar

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const jsonTerms = `ws       ::= | " " | "\n" [ \t]{0,20}
value    ::= object | array | string | number | boolean | null
object   ::= "{" ws ( string ws ":" ws value ( ws "," ws string ws ":" ws value )* )? ws "}"
array    ::= "[" ws ( value ( ws "," ws value )* )? ws "]"
string   ::= "\"" char* "\""
char     ::= [^"\\\x7F\x00-\x1F] | "\\" ( ["\\/bfnrt] | "u" [0-9a-fA-F]{4} )
integral ::= "0" | [1-9] [0-9]{0,15}
integer  ::= "-"? integral
number   ::= "-"? integral ( "." [0-9]+ )? ( [eE] [-+]? [0-9]+ )?
boolean  ::= "true" | "false"
null     ::= "null"
`

// schema is the subset of JSON Schema FromSchema understands.
type schema struct {
	Type       typeList          `json:"type"`
	Properties properties        `json:"properties"`
	Required   []string          `json:"required"`
	Items      *schema           `json:"items"`
	Enum       []json.RawMessage `json:"enum"`
	Const      json.RawMessage   `json:"const"`
	AnyOf      []*schema         `json:"anyOf"`
	OneOf      []*schema         `json:"oneOf"`
	MinLength  *int              `json:"minLength"`
	MaxLength  *int              `json:"maxLength"`
}

// typeList accepts "type": "x" and "type": ["x", "y"].
type typeList []string

func (t *typeList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*t = typeList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*t = many
	return nil
}

type property struct {
	name   string
	schema *schema
}

// properties keeps document order so generated objects list keys as written.
type properties []property

func (ps *properties) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("properties must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var s schema
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		*ps = append(*ps, property{name: name, schema: &s})
	}
	return nil
}

type builder struct {
	b     strings.Builder
	names map[string]bool
}

func (g *builder) define(name, body string) string {
	if g.names[name] {
		for i := 1; ; i++ {
			alt := fmt.Sprintf("%s-%d", name, i)
			if !g.names[alt] {
				name = alt
				break
			}
		}
	}
	g.names[name] = true
	fmt.Fprintf(&g.b, "%s ::= %s\n", name, body)
	return name
}

// quote renders s as a GBNF string literal.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '\\' || r == '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7F:
			fmt.Fprintf(&b, `\x%02X`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func literal(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return quote(buf.String()), nil
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

func ruleName(parent, child string) string {
	var b strings.Builder
	for _, r := range child {
		if r < 0x80 && isWordChar(byte(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return parent + "-x"
	}
	return parent + "-" + b.String()
}

// FromSchema converts a JSON schema into a GBNF grammar whose start rule is
// "root". Supported: type (single or list), properties with required,
// items, enum, const, anyOf/oneOf and string min/max length. Objects are
// closed: only declared properties are generated, in declaration order.
func FromSchema(jsonSchema []byte) (string, error) {
	trimmed := bytes.TrimSpace(jsonSchema)
	if len(trimmed) == 0 {
		return "", errors.New("grammar: empty schema")
	}
	var s schema
	if string(trimmed) == "true" || string(trimmed) == "{}" {
		s = schema{}
	} else if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", fmt.Errorf("grammar: parse schema: %w", err)
	}
	g := &builder{names: map[string]bool{
		"ws": true, "value": true, "object": true, "array": true, "string": true, "char": true,
		"integral": true, "integer": true, "number": true, "boolean": true, "null": true,
	}}
	body, err := g.expr(&s, "root")
	if err != nil {
		return "", err
	}
	g.define("root", body)
	return g.b.String() + jsonTerms, nil
}

// expr returns a GBNF expression for s, defining helper rules under name.
func (g *builder) expr(s *schema, name string) (string, error) {
	switch {
	case len(s.Const) > 0:
		return literal(s.Const)
	case len(s.Enum) > 0:
		alts := make([]string, 0, len(s.Enum))
		for _, e := range s.Enum {
			lit, err := literal(e)
			if err != nil {
				return "", err
			}
			alts = append(alts, lit)
		}
		return strings.Join(alts, " | "), nil
	case len(s.AnyOf) > 0 || len(s.OneOf) > 0:
		subs := append(append([]*schema(nil), s.AnyOf...), s.OneOf...)
		alts := make([]string, 0, len(subs))
		for i, sub := range subs {
			body, err := g.expr(sub, fmt.Sprintf("%s-%d", name, i))
			if err != nil {
				return "", err
			}
			alts = append(alts, g.define(fmt.Sprintf("%s-%d", name, i), body))
		}
		return strings.Join(alts, " | "), nil
	}

	types := s.Type
	if len(types) == 0 {
		switch {
		case len(s.Properties) > 0:
			types = typeList{"object"}
		case s.Items != nil:
			types = typeList{"array"}
		default:
			return "value", nil
		}
	}
	alts := make([]string, 0, len(types))
	for _, typ := range types {
		a, err := g.typed(s, typ, name)
		if err != nil {
			return "", err
		}
		alts = append(alts, a)
	}
	return strings.Join(alts, " | "), nil
}

func (g *builder) typed(s *schema, typ, name string) (string, error) {
	switch typ {
	case "string":
		if s.MinLength == nil && s.MaxLength == nil {
			return "string", nil
		}
		lo, hi := 0, ""
		if s.MinLength != nil {
			lo = *s.MinLength
		}
		if s.MaxLength != nil {
			hi = fmt.Sprint(*s.MaxLength)
		}
		return fmt.Sprintf(`"\"" char{%d,%s} "\""`, lo, hi), nil
	case "number":
		return "number", nil
	case "integer":
		return "integer", nil
	case "boolean":
		return "boolean", nil
	case "null":
		return "null", nil
	case "array":
		if s.Items == nil {
			return "array", nil
		}
		body, err := g.expr(s.Items, name+"-item")
		if err != nil {
			return "", err
		}
		item := g.define(name+"-item", body)
		return fmt.Sprintf(`"[" ws ( %s ( ws "," ws %s )* )? ws "]"`, item, item), nil
	case "object":
		if len(s.Properties) == 0 {
			return "object", nil
		}
		return g.object(s, name)
	default:
		return "", fmt.Errorf("grammar: unsupported schema type %q", typ)
	}
}

func (g *builder) object(s *schema, name string) (string, error) {
	required := map[string]bool{}
	for _, r := range s.Required {
		required[r] = true
	}
	var req, opt []string
	for _, p := range s.Properties {
		body, err := g.expr(p.schema, ruleName(name, p.name))
		if err != nil {
			return "", err
		}
		val := g.define(ruleName(name, p.name), body)
		kv := g.define(ruleName(name, p.name)+"-kv", fmt.Sprintf(`%s ws ":" ws %s`, quote(jsonString(p.name)), val))
		if required[p.name] {
			req = append(req, kv)
		} else {
			opt = append(opt, kv)
		}
	}

	// tail_i ::= ( "," kv_i )? tail_{i+1}
	tails := make([]string, len(opt)+1)
	for i := len(opt) - 1; i >= 0; i-- {
		body := fmt.Sprintf(`( ws "," ws %s )?`, opt[i])
		if tails[i+1] != "" {
			body += " " + tails[i+1]
		}
		tails[i] = g.define(fmt.Sprintf("%s-tail%d", name, i), body)
	}
	tail := tails[0]

	var b strings.Builder
	b.WriteString(`"{" ws `)
	if len(req) > 0 {
		b.WriteString(strings.Join(req, ` ws "," ws `))
		if tail != "" {
			b.WriteString(" " + tail)
		}
	} else if len(opt) > 0 {
		// first_i ::= kv_i tail_{i+1} | first_{i+1} | ε
		first := ""
		for i := len(opt) - 1; i >= 0; i-- {
			alt := opt[i]
			if tails[i+1] != "" {
				alt += " " + tails[i+1]
			}
			body := alt
			if first != "" {
				body += " | " + first
			} else {
				body += " | "
			}
			first = g.define(fmt.Sprintf("%s-first%d", name, i), body)
		}
		b.WriteString(first)
	}
	b.WriteString(` ws "}"`)
	return b.String(), nil
}

// ValidateJSON reports whether doc is accepted by the grammar FromSchema
// builds for jsonSchema.
func ValidateJSON(jsonSchema, doc []byte) error {
	src, err := FromSchema(jsonSchema)
	if err != nil {
		return err
	}
	g, err := Parse(src, "root")
	if err != nil {
		return err
	}
	if !g.Matches(strings.TrimSpace(string(doc))) {
		return errors.New("grammar: document does not match schema")
	}
	return nil
}
