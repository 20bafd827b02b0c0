package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge_LaterLayersWin(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	over := map[string]any{"b": 3, "c": 4}

	got := Merge(base, nil, over)

	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, got)
	assert.Equal(t, 2, base["b"], "inputs must not be mutated")
}

func TestDeepCopyMap_IsolatesNested(t *testing.T) {
	src := map[string]any{
		"list": []any{map[string]any{"x": 1}},
		"obj":  map[string]any{"y": "z"},
	}
	cp := DeepCopyMap(src)

	cp["obj"].(map[string]any)["y"] = "changed"
	cp["list"].([]any)[0].(map[string]any)["x"] = 2

	assert.Equal(t, "z", src["obj"].(map[string]any)["y"])
	assert.Equal(t, 1, src["list"].([]any)[0].(map[string]any)["x"])
	assert.Nil(t, DeepCopyMap(nil))
}

func TestDeepCopy_Primitives(t *testing.T) {
	assert.Equal(t, "s", DeepCopy("s"))
	assert.Equal(t, 3.5, DeepCopy(3.5))
	assert.Nil(t, DeepCopy(nil))
}
