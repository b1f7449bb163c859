package agent

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3gen"
)

// SchemaFor 由 Go 类型推导 JSON Schema。对象的所有字段都标记为必填并禁止额外字段，
// 与模型结构化输出的要求一致。
func SchemaFor[T any]() (map[string]any, error) {
	var zero T
	ref, err := openapi3gen.NewSchemaRefForValue(zero, nil)
	if err != nil {
		return nil, fmt.Errorf("生成 schema 失败: %w", err)
	}
	raw, err := json.Marshal(ref.Value)
	if err != nil {
		return nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	tighten(schema)
	return schema, nil
}

// MustSchemaFor 与 SchemaFor 相同，失败时 panic，用于包级别的智能体定义。
func MustSchemaFor[T any]() map[string]any {
	schema, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

func tighten(node map[string]any) {
	delete(node, "format")
	if props, ok := node["properties"].(map[string]any); ok {
		required := make([]string, 0, len(props))
		for name, child := range props {
			required = append(required, name)
			if m, ok := child.(map[string]any); ok {
				tighten(m)
			}
		}
		sort.Strings(required)
		node["required"] = required
		node["additionalProperties"] = false
	}
	if items, ok := node["items"].(map[string]any); ok {
		tighten(items)
	}
}
