package document

import "collabClient/backend/internal/ot/delta"

const DefaultUndoLimit = 100

// entry 一次本地编辑的正反两个方向，撤销/重做都直接复用，不再二次求逆
type entry struct {
	undo delta.Delta
	redo delta.Delta
}

// history 超过 limit 时丢弃最早的记录
type history struct {
	undos []entry
	redos []entry
	limit int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultUndoLimit
	}
	return &history{limit: limit}
}

func (h *history) canUndo() bool { return len(h.undos) > 0 }

func (h *history) canRedo() bool { return len(h.redos) > 0 }

func (h *history) pushUndo(e entry) { h.undos = pushLimited(h.undos, e, h.limit) }

func (h *history) pushRedo(e entry) { h.redos = pushLimited(h.redos, e, h.limit) }

func (h *history) peekUndo() (entry, bool) { return peek(h.undos) }

func (h *history) peekRedo() (entry, bool) { return peek(h.redos) }

func (h *history) popUndo() { h.undos = h.undos[:len(h.undos)-1] }

func (h *history) popRedo() { h.redos = h.redos[:len(h.redos)-1] }

func (h *history) clearRedo() { h.redos = nil }

// rebase 把不进撤销栈的 d（作用在当前文档上）变换进两个栈，
// 之后的撤销/重做只作用于本地编辑过的内容，不会碰到 d 带来的修改
func (h *history) rebase(d delta.Delta) {
	// 撤销栈顶作用在当前文档上，越往下越早
	r := d
	for i := len(h.undos) - 1; i >= 0; i-- {
		e := h.undos[i]
		undo := delta.Transform(r, e.undo, true)
		r = delta.Transform(e.undo, r, false)
		h.undos[i] = entry{undo: undo, redo: delta.Transform(r, e.redo, true)}
	}
	// 重做栈顶同样作用在当前文档上，越往下越晚
	r = d
	for i := len(h.redos) - 1; i >= 0; i-- {
		e := h.redos[i]
		redo := delta.Transform(r, e.redo, true)
		r = delta.Transform(e.redo, r, false)
		h.redos[i] = entry{undo: delta.Transform(r, e.undo, true), redo: redo}
	}
}

func (h *history) clone() *history {
	return &history{
		undos: append([]entry(nil), h.undos...),
		redos: append([]entry(nil), h.redos...),
		limit: h.limit,
	}
}

func pushLimited(stack []entry, e entry, limit int) []entry {
	stack = append(stack, e)
	if over := len(stack) - limit; over > 0 {
		stack = append(stack[:0:0], stack[over:]...)
	}
	return stack
}

func peek(stack []entry) (entry, bool) {
	if len(stack) == 0 {
		return entry{}, false
	}
	return stack[len(stack)-1], true
}
