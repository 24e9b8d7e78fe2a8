package delta

// Invert 返回撤销 change 的 Delta；base 是应用 change 之前的文档。
func Invert(change, base Delta) (Delta, error) {
	if change.BaseLen() > base.TargetLen() {
		return nil, ErrLengthMismatch
	}
	var out Delta
	pos := 0
	for _, op := range change {
		switch op.Kind {
		case KindInsert:
			out = out.Delete(op.Len())
		case KindDelete:
			for _, bop := range base.Slice(pos, pos+op.Count) {
				out = out.push(bop)
			}
			pos += op.Count
		case KindRetain:
			if op.Attrs == nil {
				out = out.Retain(op.Count, nil)
			} else {
				for _, bop := range base.Slice(pos, pos+op.Count) {
					out = out.Retain(bop.Len(), invertAttributes(op.Attrs, bop.Attrs))
				}
			}
			pos += op.Count
		}
	}
	return out.Chop(), nil
}
