package delta

import "math"

// Transform 把 b 变换成在 a 之后应用的等价操作，a 和 b 作用在同一份文档上。
// 两者在同一位置插入时，aFirst 为 true 则 a 插入的内容排在前面。
// 满足 Compose(a, Transform(a, b, p)) == Compose(b, Transform(b, a, !p))。
func Transform(a, b Delta, aFirst bool) Delta {
	ai, bi := newIterator(a), newIterator(b)
	var out Delta
	for ai.hasNext() || bi.hasNext() {
		if ai.peekKind() == KindInsert && (aFirst || bi.peekKind() != KindInsert) {
			out = out.Retain(ai.next(math.MaxInt).Len(), nil)
			continue
		}
		if bi.peekKind() == KindInsert {
			out = out.push(bi.next(math.MaxInt))
			continue
		}
		n := min(ai.peekLen(), bi.peekLen())
		aop, bop := ai.next(n), bi.next(n)
		switch {
		case aop.Kind == KindDelete:
			// 这段内容已经被 a 删掉，b 对它的修改随之消失
		case bop.Kind == KindDelete:
			out = out.push(bop)
		default:
			out = out.Retain(n, transformAttributes(aop.Attrs, bop.Attrs, aFirst))
		}
	}
	return out.Chop()
}
