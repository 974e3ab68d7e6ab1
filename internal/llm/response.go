package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoJSONObject is returned when a reply contains no {...} span.
var ErrNoJSONObject = errors.New("response contains no JSON object")

const editResponseSchema = `{
  "type": "object",
  "properties": {
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "contents"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "contents": {"type": "string"}
        }
      }
    },
    "memory": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}`

var editSchema = MustCompileSchema("edit_response.json", editResponseSchema)

// CompileSchema compiles a JSON schema document registered under name.
func CompileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

func MustCompileSchema(name, src string) *jsonschema.Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", name, err))
	}
	return s
}

// ExtractJSONObject returns the text between the first '{' and the last '}'.
// Models wrap their JSON in prose and code fences; this is deliberately lax.
func ExtractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", ErrNoJSONObject
	}
	return text[start : end+1], nil
}

type FileEdit struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
}

// EditResponse is the object a model returns for PROMPT and FIX requests.
type EditResponse struct {
	Files  []FileEdit
	Memory []string
	// HasMemory distinguishes an absent memory key from an empty list.
	HasMemory bool
}

// ParseEditResponse extracts and schema-checks the edit object in text.
func ParseEditResponse(text string) (*EditResponse, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode response JSON: %w", err)
	}
	if err := editSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("response JSON does not match the edit schema: %w", err)
	}
	var doc struct {
		Files  []FileEdit `json:"files"`
		Memory *[]string  `json:"memory"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode response JSON: %w", err)
	}
	out := &EditResponse{Files: doc.Files}
	if doc.Memory != nil {
		out.HasMemory = true
		out.Memory = *doc.Memory
	}
	return out, nil
}
