// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
)

// generateSchema reflects a Go argument struct into the JSON-schema-shaped
// inputSchema list_tools advertises, the same reflector configuration the
// teacher's function-tool package uses: required-from-tags, an expanded
// (non-$ref) struct, and no top-level $schema/$id noise.
func generateSchema[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]any{"type": "object"}
	}

	if raw["type"] != "object" {
		return raw
	}
	out := map[string]any{
		"type":       "object",
		"properties": raw["properties"],
	}
	if req, ok := raw["required"]; ok {
		out["required"] = req
	}
	if addl, ok := raw["additionalProperties"]; ok {
		out["additionalProperties"] = addl
	}
	return out
}

// decodeArgs loosely decodes a call_tool argument map into a typed struct,
// matching on each field's `json` tag so the same struct doubles as the
// jsonschema source and the decode target.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, apperr.New(apperr.Validation, "broker", "decode_args", "failed to build argument decoder", err)
	}
	if err := dec.Decode(args); err != nil {
		return out, apperr.New(apperr.Validation, "broker", "decode_args",
			fmt.Sprintf("invalid arguments: %v", err), err)
	}
	return out, nil
}
