package delta

import (
	"encoding/json"
	"fmt"
)

// Bytes 序列化为 JSON
func (d Delta) Bytes() ([]byte, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

// FromBytes 反序列化并校验
func FromBytes(b []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	// 重新 push 一遍，得到规范形式
	var out Delta
	for _, op := range d {
		out = out.push(op)
	}
	return out, nil
}
