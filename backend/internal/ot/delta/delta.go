package delta

import (
	"errors"
	"unicode/utf8"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

var (
	ErrInvalidDelta   = errors.New("INVALID_DELTA")
	ErrLengthMismatch = errors.New("DELTA_LENGTH_MISMATCH")
	ErrOutOfRange     = errors.New("OUT_OF_RANGE")
)

type Op struct {
	Kind  Kind       `json:"kind"`            // "retain" / "insert" / "delete"
	Count int        `json:"count,omitempty"` // retain/delete 的长度（按 rune 计）
	Text  string     `json:"text,omitempty"`  // insert 的文本
	Attrs Attributes `json:"attrs,omitempty"` // 样式属性（粗体/颜色等）
}

// Len 返回 op 覆盖的长度，insert 按 rune 计
func (op Op) Len() int {
	if op.Kind == KindInsert {
		return utf8.RuneCountInString(op.Text)
	}
	return op.Count
}

// Delta 是一组有序的 OT 操作。只包含 insert 的 Delta 表示一份完整文档。
// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]
type Delta []Op

// Retain 追加一个 retain，attrs 非空时表示对这段内容做格式化
func (d Delta) Retain(n int, attrs Attributes) Delta {
	return d.push(Op{Kind: KindRetain, Count: n, Attrs: attrs})
}

func (d Delta) Insert(text string, attrs Attributes) Delta {
	return d.push(Op{Kind: KindInsert, Text: text, Attrs: attrs})
}

func (d Delta) Delete(n int) Delta {
	return d.push(Op{Kind: KindDelete, Count: n})
}

// push 追加 op 并合并相邻的同类 op，保证 Delta 始终是规范形式：
// - 长度为 0 的 op 直接丢弃
// - insert 紧跟 delete 时，insert 放到 delete 前面
func (d Delta) push(op Op) Delta {
	if op.Len() <= 0 {
		return d
	}
	if len(op.Attrs) == 0 {
		op.Attrs = nil
	} else {
		op.Attrs = op.Attrs.normalized()
	}
	n := len(d)
	if n == 0 {
		return Delta{op}
	}
	last := d[n-1]
	if last.Kind == KindDelete && op.Kind == KindDelete {
		out := d.clone()
		out[n-1].Count += op.Count
		return out
	}
	if last.Kind == KindDelete && op.Kind == KindInsert {
		// 规范顺序：先 insert 后 delete
		head := d[:n-1].push(op)
		return append(head, last)
	}
	if last.Kind == op.Kind && last.Attrs.Equal(op.Attrs) {
		out := d.clone()
		switch op.Kind {
		case KindInsert:
			out[n-1].Text += op.Text
			return out
		case KindRetain:
			out[n-1].Count += op.Count
			return out
		}
	}
	return append(d[:n:n], op)
}

func (d Delta) clone() Delta {
	out := make(Delta, len(d), len(d)+1)
	copy(out, d)
	return out
}

// Chop 去掉末尾没有属性的 retain（隐式保留）
func (d Delta) Chop() Delta {
	n := len(d)
	if n > 0 && d[n-1].Kind == KindRetain && d[n-1].Attrs == nil {
		return d[:n-1]
	}
	return d
}

// BaseLen 返回应用该 Delta 所需的文档最小长度
func (d Delta) BaseLen() int {
	n := 0
	for _, op := range d {
		if op.Kind != KindInsert {
			n += op.Count
		}
	}
	return n
}

// TargetLen 返回应用后被 Delta 显式覆盖的长度
func (d Delta) TargetLen() int {
	n := 0
	for _, op := range d {
		if op.Kind != KindDelete {
			n += op.Len()
		}
	}
	return n
}

// IsDocument 判断是否只由 insert 组成
func (d Delta) IsDocument() bool {
	for _, op := range d {
		if op.Kind != KindInsert {
			return false
		}
	}
	return true
}

// Text 拼接全部 insert 的文本，对文档 Delta 即为纯文本内容
func (d Delta) Text() string {
	n := 0
	for _, op := range d {
		n += len(op.Text)
	}
	b := make([]byte, 0, n)
	for _, op := range d {
		if op.Kind == KindInsert {
			b = append(b, op.Text...)
		}
	}
	return string(b)
}

// Validate 检查每个 op 是否合法
func (d Delta) Validate() error {
	for _, op := range d {
		switch op.Kind {
		case KindInsert:
			if op.Text == "" || op.Count != 0 {
				return ErrInvalidDelta
			}
		case KindRetain:
			if op.Count <= 0 || op.Text != "" {
				return ErrInvalidDelta
			}
		case KindDelete:
			if op.Count <= 0 || op.Text != "" || len(op.Attrs) != 0 {
				return ErrInvalidDelta
			}
		default:
			return ErrInvalidDelta
		}
	}
	return nil
}

// Slice 截取 [start, end) 区间内的 op
func (d Delta) Slice(start, end int) Delta {
	var out Delta
	it := newIterator(d)
	pos := 0
	for pos < end && it.hasNext() {
		var op Op
		if pos < start {
			op = it.next(start - pos)
		} else {
			op = it.next(end - pos)
			out = out.push(op)
		}
		pos += op.Len()
	}
	return out
}
