package delta

import (
	"fmt"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// 下面的构造函数根据文档长度 docLen 生成对应编辑的 Delta，越界时返回 ErrOutOfRange

func NewInsert(docLen, index int, text string, attrs Attributes) (Delta, error) {
	if index < 0 || index > docLen {
		return nil, fmt.Errorf("%w: insert at %d, len %d", ErrOutOfRange, index, docLen)
	}
	return Delta{}.Retain(index, nil).Insert(text, attrs).Chop(), nil
}

func NewDelete(docLen int, iv Interval) (Delta, error) {
	if !iv.within(docLen) {
		return nil, fmt.Errorf("%w: delete %s, len %d", ErrOutOfRange, iv, docLen)
	}
	return Delta{}.Retain(iv.Start, nil).Delete(iv.Len()).Chop(), nil
}

func NewFormat(docLen int, iv Interval, attr Attribute) (Delta, error) {
	if !iv.within(docLen) {
		return nil, fmt.Errorf("%w: format %s, len %d", ErrOutOfRange, iv, docLen)
	}
	if attr.Key == "" {
		return nil, fmt.Errorf("%w: empty attribute key", ErrInvalidDelta)
	}
	return Delta{}.Retain(iv.Start, nil).Retain(iv.Len(), Attributes{attr.Key: attr.Value}).Chop(), nil
}

func NewReplace(docLen int, iv Interval, text string) (Delta, error) {
	if !iv.within(docLen) {
		return nil, fmt.Errorf("%w: replace %s, len %d", ErrOutOfRange, iv, docLen)
	}
	return Delta{}.Retain(iv.Start, nil).Insert(text, nil).Delete(iv.Len()).Chop(), nil
}

// FromTextDiff 根据新旧纯文本的差异生成最小的 Delta
func FromTextDiff(old, new string) Delta {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(old, new, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	var d Delta
	for _, df := range diffs {
		n := utf8.RuneCountInString(df.Text)
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			d = d.Retain(n, nil)
		case diffmatchpatch.DiffInsert:
			d = d.Insert(df.Text, nil)
		case diffmatchpatch.DiffDelete:
			d = d.Delete(n)
		}
	}
	return d.Chop()
}
