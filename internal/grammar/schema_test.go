package grammar

import (
	"strings"
	"testing"
)

const personSchema = `{
  "type": "object",
  "properties": {
    "name":  {"type": "string", "minLength": 1},
    "age":   {"type": "integer"},
    "tags":  {"type": "array", "items": {"enum": ["a", "b<c"]}},
    "email": {"type": ["string", "null"]}
  },
  "required": ["name", "age"]
}`

func TestFromSchemaParses(t *testing.T) {
	src, err := FromSchema([]byte(personSchema))
	if err != nil {
		t.Fatalf("from schema: %v", err)
	}
	if _, err := Parse(src, "root"); err != nil {
		t.Fatalf("generated grammar does not parse: %v\n%s", err, src)
	}
}

func TestValidateJSON(t *testing.T) {
	good := []string{
		`{"name":"ann","age":31}`,
		`{"name": "ann", "age": -2, "tags": ["a", "b<c"]}`,
		`{"name":"ann","age":3,"email":null}`,
		"{\n  \"name\": \"bo\",\n  \"age\": 0,\n  \"tags\": [],\n  \"email\": \"b@x\"\n}",
	}
	for _, doc := range good {
		if err := ValidateJSON([]byte(personSchema), []byte(doc)); err != nil {
			t.Errorf("%s: %v", doc, err)
		}
	}
	bad := []string{
		`{"age":31}`,
		`{"name":"","age":31}`,
		`{"name":"ann","age":3.5}`,
		`{"name":"ann","age":1,"tags":["c"]}`,
		`{"age":1,"name":"ann"}`,
		`{"name":"ann","age":1,"extra":true}`,
		`{"name":"ann","age":01}`,
	}
	for _, doc := range bad {
		if err := ValidateJSON([]byte(personSchema), []byte(doc)); err == nil {
			t.Errorf("%s: want rejection", doc)
		}
	}
}

func TestSchemaAllOptional(t *testing.T) {
	s := []byte(`{"properties":{"a":{"type":"boolean"},"b":{"const":3}}}`)
	for _, doc := range []string{`{}`, `{"a":true}`, `{"b":3}`, `{"a":false,"b":3}`} {
		if err := ValidateJSON(s, []byte(doc)); err != nil {
			t.Errorf("%s: %v", doc, err)
		}
	}
	for _, doc := range []string{`{"b":4}`, `{"b":3,"a":true}`, `{,"b":3}`} {
		if ValidateJSON(s, []byte(doc)) == nil {
			t.Errorf("%s: want rejection", doc)
		}
	}
}

func TestSchemaAnyOfAndFreeValue(t *testing.T) {
	s := []byte(`{"anyOf":[{"type":"number"},{"type":"object","properties":{"k":{}},"required":["k"]}]}`)
	for _, doc := range []string{`1.5e3`, `{"k":[1,{"z":null}]}`} {
		if err := ValidateJSON(s, []byte(doc)); err != nil {
			t.Errorf("%s: %v", doc, err)
		}
	}
	if ValidateJSON(s, []byte(`"str"`)) == nil {
		t.Fatalf("string should not satisfy number|object")
	}
}

func TestFromSchemaRejectsUnknownType(t *testing.T) {
	_, err := FromSchema([]byte(`{"type":"tuple"}`))
	if err == nil || !strings.Contains(err.Error(), "tuple") {
		t.Fatalf("want unsupported type error, got %v", err)
	}
	if _, err := FromSchema([]byte(`  `)); err == nil {
		t.Fatalf("want error for empty schema")
	}
}
