package delta

import "math"

// Compose 把 b 合并到 a 之后，返回等价于先应用 a 再应用 b 的单个 Delta。
// b 的 BaseLen 不能超过 a 的 TargetLen，超出部分视为非法。
func Compose(a, b Delta) (Delta, error) {
	if b.BaseLen() > a.TargetLen() {
		return nil, ErrLengthMismatch
	}
	ai, bi := newIterator(a), newIterator(b)
	var out Delta
	for ai.hasNext() || bi.hasNext() {
		if bi.peekKind() == KindInsert {
			out = out.push(bi.next(math.MaxInt))
			continue
		}
		if ai.peekKind() == KindDelete {
			out = out.push(ai.next(math.MaxInt))
			continue
		}
		n := min(ai.peekLen(), bi.peekLen())
		aop, bop := ai.next(n), bi.next(n)
		switch bop.Kind {
		case KindRetain:
			op := Op{Kind: aop.Kind, Count: aop.Count, Text: aop.Text}
			op.Attrs = composeAttributes(aop.Attrs, bop.Attrs, aop.Kind == KindRetain)
			out = out.push(op)
		case KindDelete:
			// insert 后又被删掉，两者抵消
			if aop.Kind == KindRetain {
				out = out.push(bop)
			}
		}
	}
	return out.Chop(), nil
}
