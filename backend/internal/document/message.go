package document

import (
	"context"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/ot/delta"
)

// command 文档 actor 处理的一条消息，回复通道容量为 1，actor 回复时不会阻塞
type command interface {
	context() context.Context
	name() string
	exec(s *docState)
	fail(err error)
}

type result[T any] struct {
	val T
	err error
}

type request[T any] struct {
	ctx context.Context
	ret chan result[T]
}

func newRequest[T any](ctx context.Context) request[T] {
	return request[T]{ctx: ctx, ret: make(chan result[T], 1)}
}

func (r request[T]) context() context.Context { return r.ctx }

func (r request[T]) reply(v T, err error) { r.ret <- result[T]{val: v, err: err} }

func (r request[T]) fail(err error) {
	var zero T
	r.reply(zero, err)
}

type insertCmd struct {
	request[Change]
	index int
	text  string
	attrs delta.Attributes
}

func (c *insertCmd) name() string { return "insert" }

func (c *insertCmd) exec(s *docState) {
	c.reply(s.edit(func(n int) (delta.Delta, error) { return delta.NewInsert(n, c.index, c.text, c.attrs) }))
}

type deleteCmd struct {
	request[Change]
	interval delta.Interval
}

func (c *deleteCmd) name() string { return "delete" }

func (c *deleteCmd) exec(s *docState) {
	c.reply(s.edit(func(n int) (delta.Delta, error) { return delta.NewDelete(n, c.interval) }))
}

type formatCmd struct {
	request[Change]
	interval delta.Interval
	attr     delta.Attribute
}

func (c *formatCmd) name() string { return "format" }

func (c *formatCmd) exec(s *docState) {
	c.reply(s.edit(func(n int) (delta.Delta, error) { return delta.NewFormat(n, c.interval, c.attr) }))
}

type replaceCmd struct {
	request[Change]
	interval delta.Interval
	text     string
}

func (c *replaceCmd) name() string { return "replace" }

func (c *replaceCmd) exec(s *docState) {
	c.reply(s.edit(func(n int) (delta.Delta, error) { return delta.NewReplace(n, c.interval, c.text) }))
}

// deltaCmd 应用外部已经组合好的 delta，不进入撤销栈
type deltaCmd struct {
	request[Change]
	change delta.Delta
}

func (c *deltaCmd) name() string { return "delta" }

func (c *deltaCmd) exec(s *docState) { c.reply(s.apply(c.change)) }

type undoCmd struct{ request[Change] }

func (c *undoCmd) name() string { return "undo" }

func (c *undoCmd) exec(s *docState) { c.reply(s.undo()) }

type redoCmd struct{ request[Change] }

func (c *redoCmd) name() string { return "redo" }

func (c *redoCmd) exec(s *docState) { c.reply(s.redo()) }

type canUndoCmd struct{ request[bool] }

func (c *canUndoCmd) name() string { return "can_undo" }

func (c *canUndoCmd) exec(s *docState) { c.reply(s.hist.canUndo(), nil) }

type canRedoCmd struct{ request[bool] }

func (c *canRedoCmd) name() string { return "can_redo" }

func (c *canRedoCmd) exec(s *docState) { c.reply(s.hist.canRedo(), nil) }

type docCmd struct{ request[State] }

func (c *docCmd) name() string { return "doc" }

func (c *docCmd) exec(s *docState) { c.reply(s.state(), nil) }

type saveCmd struct {
	request[struct{}]
	rev entity.RevID
}

func (c *saveCmd) name() string { return "save_document" }

func (c *saveCmd) exec(s *docState) {
	if c.rev > s.saved {
		s.saved = c.rev
	}
	c.reply(struct{}{}, nil)
}

type rollbackCmd struct {
	request[struct{}]
	snap *snapshot
}

func (c *rollbackCmd) name() string { return "rollback" }

func (c *rollbackCmd) exec(s *docState) {
	s.restore(c.snap)
	c.reply(struct{}{}, nil)
}
