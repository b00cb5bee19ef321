package gbdt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// modelSchema describes the blob written by Model.MarshalBinary.
const modelSchema = `{
  "type": "object",
  "required": ["params", "num_features", "base", "trees"],
  "properties": {
    "params": {
      "type": "object",
      "required": ["objective", "num_iterations", "num_leaves", "learning_rate"]
    },
    "num_features": {"type": "integer", "minimum": 1},
    "base": {"type": "number"},
    "trees": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["nodes"],
        "properties": {
          "nodes": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["f", "t", "l", "r", "leaf", "v"],
              "properties": {
                "f": {"type": "integer", "minimum": 0},
                "t": {"type": "number"},
                "l": {"type": "integer", "minimum": 0},
                "r": {"type": "integer", "minimum": 0},
                "leaf": {"type": "boolean"},
                "v": {"type": "number"}
              }
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("gbdt-model.json", strings.NewReader(modelSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("gbdt-model.json")
	})
	return schemaCompiled, schemaErr
}

// validateBlob checks a serialised model against modelSchema before it is
// decoded.
func validateBlob(blob []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile model schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(blob, &doc); err != nil {
		return err
	}
	return sch.Validate(doc)
}
