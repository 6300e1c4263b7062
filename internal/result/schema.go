package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oukeidos/restora/internal/media"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

var ocrSchema = map[string]any{
	"type": []string{"object", "null"},
	"properties": map[string]any{
		"blur_confidence":     nullable("number"),
		"enhanced_confidence": nullable("number"),
		"improvement":         nullable("number"),
		"blur_text_count":     nullable("number"),
		"enhanced_text_count": nullable("number"),
	},
}

var imageSchema = map[string]any{
	"type":     "object",
	"required": []string{"images"},
	"properties": map[string]any{
		"images": map[string]any{
			"type":     "object",
			"required": []string{"original", "enhanced"},
			"properties": map[string]any{
				"original":   map[string]any{"type": "string"},
				"enhanced":   map[string]any{"type": "string"},
				"deblurred":  nullable("string"),
				"comparison": nullable("string"),
			},
		},
		"blur_detection": map[string]any{
			"type": []string{"object", "null"},
			"properties": map[string]any{
				"level":              map[string]any{"type": "string"},
				"laplacian_variance": nullable("number"),
				"edge_density":       nullable("number"),
			},
		},
		"ocr_result":       ocrSchema,
		"confidence_level": nullable("number"),
	},
}

var videoSchema = map[string]any{
	"type":     "object",
	"required": []string{"total_frames", "sample_frames"},
	"properties": map[string]any{
		"total_frames":     map[string]any{"type": "number"},
		"processed_frames": nullable("number"),
		"output_video":     nullable("string"),
		"sample_frames": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"frame_id"},
				"properties": map[string]any{
					"frame_id":         map[string]any{"type": []string{"string", "number"}},
					"frame_number":     nullable("number"),
					"blur_level":       nullable("string"),
					"images":           map[string]any{"type": []string{"object", "null"}},
					"ocr_result":       ocrSchema,
					"confidence_level": nullable("number"),
				},
			},
		},
	},
}

func compileSchema(name string, schemaMap map[string]any) func() (*jsonschema.Schema, error) {
	return sync.OnceValues(func() (*jsonschema.Schema, error) {
		b, err := json.Marshal(schemaMap)
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema: %w", err)
		}
		return compiler.Compile(name)
	})
}

var schemas = map[media.Category]func() (*jsonschema.Schema, error){
	media.Image: compileSchema("image_result.json", imageSchema),
	media.Video: compileSchema("video_result.json", videoSchema),
}

// checkShape validates the field types of raw before it is decoded, so a
// wrongly typed field is reported by path rather than as a decode error.
func checkShape(raw []byte, category media.Category) error {
	compiled, ok := schemas[category]
	if !ok {
		return fmt.Errorf("unknown media category %q", category)
	}
	schema, err := compiled()
	if err != nil {
		return fmt.Errorf("compile %s schema: %w", category, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", category, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%s result does not match schema: %w", category, err)
	}
	return nil
}
