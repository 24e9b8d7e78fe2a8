package delta

import "math"

// iterator 按长度切分遍历 Delta，遍历结束后视为无限长的 retain
type iterator struct {
	ops    Delta
	index  int
	offset int
}

func newIterator(d Delta) *iterator {
	return &iterator{ops: d}
}

func (it *iterator) hasNext() bool {
	return it.peekLen() < math.MaxInt
}

func (it *iterator) peekLen() int {
	if it.index < len(it.ops) {
		return it.ops[it.index].Len() - it.offset
	}
	return math.MaxInt
}

func (it *iterator) peekKind() Kind {
	if it.index < len(it.ops) {
		return it.ops[it.index].Kind
	}
	return KindRetain
}

// next 取出当前 op 的前 n 个长度
func (it *iterator) next(n int) Op {
	if it.index >= len(it.ops) {
		return Op{Kind: KindRetain, Count: n}
	}
	op := it.ops[it.index]
	offset := it.offset
	rest := op.Len() - offset
	if n >= rest {
		n = rest
		it.index++
		it.offset = 0
	} else {
		it.offset += n
	}
	switch op.Kind {
	case KindInsert:
		r := []rune(op.Text)
		return Op{Kind: KindInsert, Text: string(r[offset : offset+n]), Attrs: op.Attrs}
	case KindDelete:
		return Op{Kind: KindDelete, Count: n}
	default:
		return Op{Kind: KindRetain, Count: n, Attrs: op.Attrs}
	}
}
