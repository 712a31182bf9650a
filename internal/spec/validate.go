package spec

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"witnessd/internal/werrors"
)

// wellKnownPropertySchema validates the subset of event_properties
// keys witnessd itself interprets (currently only
// call:use_intercept). Unknown keys are never validated here — the
// property bag is a free-form hint carrier and tools may add keys
// witnessd does not understand.
const wellKnownPropertySchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"call:use_intercept": { "type": "string", "enum": ["T", "F"] }
	},
	"additionalProperties": true
}`

var wellKnownPropertySchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	const resourceName = "witnessd://event_properties.schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader([]byte(wellKnownPropertySchemaJSON))); err != nil {
		panic(werrors.Invariant("event_properties schema failed to compile: " + err.Error()))
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		panic(werrors.Invariant("event_properties schema failed to compile: " + err.Error()))
	}
	wellKnownPropertySchema = schema
}

// ValidateProperties validates the well-known keys of every prefix
// entry in bag against the built-in schema. Compile-time EDL loading
// calls this before accepting an EventSpecification.
func ValidateProperties(bag *PropertyBag) error {
	for prefix, kv := range bag.All() {
		raw, err := json.Marshal(kv)
		if err != nil {
			return werrors.BadFile("event_properties:"+prefix, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return werrors.BadFile("event_properties:"+prefix, err)
		}
		if err := wellKnownPropertySchema.Validate(doc); err != nil {
			return werrors.BadFile("event_properties:"+prefix, err)
		}
	}
	return nil
}
