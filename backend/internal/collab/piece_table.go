package collab

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"collabClient/backend/internal/ot/delta"
)

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	buf    bufferKind
	offset int
	length int
}

// PieceTable original 只读，新插入的文本只追加到 add，编辑只改 pieces
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
	length   int
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r, length: len(r)}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int { return pt.length }

func (pt *PieceTable) String() string {
	var sb strings.Builder
	sb.Grow(pt.length)
	for _, p := range pt.pieces {
		for _, r := range pt.runes(p) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (pt *PieceTable) runes(p piece) []rune {
	if p.buf == bufOriginal {
		return pt.original[p.offset : p.offset+p.length]
	}
	return pt.add[p.offset : p.offset+p.length]
}

// Apply 把 delta 应用到缓冲区；越界的 delta 直接拒绝，不做任何修改
func (pt *PieceTable) Apply(d delta.Delta) error {
	if base := d.BaseLen(); base > pt.length {
		return fmt.Errorf("%w: delta spans %d, buffer has %d", delta.ErrOutOfRange, base, pt.length)
	}
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			n := utf8.RuneCountInString(op.Text)
			pt.insert(pos, op.Text)
			pos += n
		case delta.KindDelete:
			pt.remove(pos, op.Count)
		}
	}
	return nil
}

func (pt *PieceTable) insert(pos int, text string) {
	r := []rune(text)
	np := piece{buf: bufAdd, offset: len(pt.add), length: len(r)}
	pt.add = append(pt.add, r...)
	pt.length += len(r)

	idx, offset := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, np)
		return
	}
	cur := pt.pieces[idx]
	out := make([]piece, 0, len(pt.pieces)+2)
	out = append(out, pt.pieces[:idx]...)
	if offset > 0 {
		out = append(out, piece{buf: cur.buf, offset: cur.offset, length: offset})
	}
	out = append(out, np)
	out = append(out, piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset})
	out = append(out, pt.pieces[idx+1:]...)
	pt.pieces = out
}

func (pt *PieceTable) remove(pos, count int) {
	remain := count
	idx, offset := pt.locate(pos)
	for remain > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		take := min(remain, cur.length-offset)

		var repl []piece
		if offset > 0 {
			repl = append(repl, piece{buf: cur.buf, offset: cur.offset, length: offset})
		}
		if rest := cur.length - offset - take; rest > 0 {
			repl = append(repl, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rest})
		}
		out := make([]piece, 0, len(pt.pieces)+1)
		out = append(out, pt.pieces[:idx]...)
		out = append(out, repl...)
		out = append(out, pt.pieces[idx+1:]...)
		pt.pieces = out

		// 左半段保留时，下一段从 idx+1 开始
		if offset > 0 {
			idx++
		}
		offset = 0
		remain -= take
		pt.length -= take
	}
}

// locate 返回逻辑位置 pos 所在的 piece 下标和片内偏移
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
