package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ValidationError is a single validation finding with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // e.g. "tests[0].commands[2].id"
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile runs the three validation phases on a project file:
// structural decode, JSON Schema validation of the raw document, and domain
// rules on the decoded project.
func ValidateFile(path string) (*Project, []*ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []*ValidationError{{Phase: "structural", Message: err.Error(), Severity: "error"}}
	}
	p, errs := ValidateBytes(data)
	if p != nil {
		p.Path = path
	}
	return p, errs
}

// ValidateBytes is ValidateFile for in-memory documents.
func ValidateBytes(data []byte) (*Project, []*ValidationError) {
	var all []*ValidationError

	p, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, []*ValidationError{{Phase: "structural", Message: err.Error(), Severity: "error"}}
	}

	all = append(all, validateSemantic(data)...)
	all = append(all, ValidateDomain(p)...)
	if len(all) > 0 {
		return p, all
	}
	return p, nil
}

func semanticError(format string, args ...any) []*ValidationError {
	return []*ValidationError{{
		Phase:    "semantic",
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	}}
}

// validateSemantic checks the raw document against the generated schema.
// The document goes through yaml -> json so YAML projects validate the same
// way as JSON ones.
func validateSemantic(data []byte) []*ValidationError {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return semanticError("decode document: %v", err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return semanticError("re-encode document: %v", err)
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(asJSON))
	if err != nil {
		return semanticError("unmarshal document: %v", err)
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semanticError("generate schema: %v", err)
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return semanticError("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("side-project.json", schemaDoc); err != nil {
		return semanticError("add schema resource: %v", err)
	}
	sch, err := c.Compile("side-project.json")
	if err != nil {
		return semanticError("compile schema: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return semanticError("%v", err)
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     strings.Join(cause.InstanceLocation, "/"),
				Message:  fmt.Sprintf("%v", cause.ErrorKind),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain applies the rules a schema cannot express.
func ValidateDomain(p *Project) []*ValidationError {
	var errs []*ValidationError
	add := func(severity, path, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}

	testIDs := make(map[string]bool, len(p.Tests))
	testNames := make(map[string]bool, len(p.Tests))
	for i, t := range p.Tests {
		path := fmt.Sprintf("tests[%d]", i)
		if testIDs[t.ID] {
			add("error", path+".id", "duplicate test id %q", t.ID)
		}
		testIDs[t.ID] = true
		if testNames[t.Name] {
			add("warning", path+".name", "duplicate test name %q; only the first is reachable by name", t.Name)
		}
		testNames[t.Name] = true

		cmdIDs := make(map[string]bool, len(t.Commands))
		for j, c := range t.Commands {
			cpath := fmt.Sprintf("%s.commands[%d]", path, j)
			if c.ID != "" && cmdIDs[c.ID] {
				add("error", cpath+".id", "duplicate command id %q in test %q", c.ID, t.Name)
			}
			cmdIDs[c.ID] = true
			if strings.TrimSpace(c.Command) == "" {
				add("error", cpath+".command", "command name is empty")
			}
		}
	}

	for i, s := range p.Suites {
		for j, id := range s.Tests {
			if !testIDs[id] {
				add("error", fmt.Sprintf("suites[%d].tests[%d]", i, j), "suite %q references unknown test %q", s.Name, id)
			}
		}
	}
	return errs
}
