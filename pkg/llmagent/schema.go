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


package llmagent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/refinery/pkg/export"
)

// responseSchema reflects T into a JSON schema map for structured output.
//
// Supported struct tags:
//   - json:"name" - property name
//   - jsonschema:"required" - mark as required
//   - jsonschema:"description=..." - property description
//   - jsonschema:"minimum=N,maximum=M" - numeric constraints
func responseSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	data, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema, nil
}

func mustSchema[T any]() map[string]any {
	s, err := responseSchema[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// decodeJSON unmarshals the JSON object in text, tolerating code fences and
// prose around it.
func decodeJSON(text string, v any) error {
	s := export.ExtractCode(text)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("invalid JSON output: %w", err)
	}
	return nil
}
