package delta

import (
	"encoding/json"
	"reflect"
)

// Attributes 样式属性；值为 nil 表示移除该属性
type Attributes map[string]any

// Attribute 单个样式属性，用于 format
type Attribute struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (a Attributes) Equal(b Attributes) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func (a Attributes) clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// composeAttributes 把 b 叠加到 a 上；keepNull 为 false 时丢弃值为 nil 的键
func composeAttributes(a, b Attributes, keepNull bool) Attributes {
	out := b.clone()
	if out == nil {
		out = Attributes{}
	}
	if !keepNull {
		for k, v := range out {
			if v == nil {
				delete(out, k)
			}
		}
	}
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// invertAttributes 计算把 base 格式化成 attr 之后再还原回 base 的属性
func invertAttributes(attr, base Attributes) Attributes {
	out := Attributes{}
	for k, v := range attr {
		bv, ok := base[k]
		if !ok {
			if v != nil {
				out[k] = nil
			}
			continue
		}
		if !reflect.DeepEqual(bv, v) {
			out[k] = bv
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// transformAttributes a 和 b 同时格式化同一段内容时 b 在 a 之后的属性；aFirst 时 a 已设置的键以 a 为准
func transformAttributes(a, b Attributes, aFirst bool) Attributes {
	if len(b) == 0 {
		return nil
	}
	if !aFirst || len(a) == 0 {
		return b.clone()
	}
	out := Attributes{}
	for k, v := range b {
		if _, ok := a[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalized 把属性值换成 JSON 解码后的类型（数字统一为 float64），序列化前后保持相等
func (a Attributes) normalized() Attributes {
	dirty := false
	for _, v := range a {
		if !isJSONValue(v) {
			dirty = true
			break
		}
	}
	if !dirty {
		return a
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = normalizeValue(v)
	}
	return out
}

func isJSONValue(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64:
		return true
	}
	return false
}

func normalizeValue(v any) any {
	if isJSONValue(v) {
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
