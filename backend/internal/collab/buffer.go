package collab

import (
	"collabClient/backend/internal/ot/delta"
)

// Buffer 文档纯文本缓冲区，Apply 失败时内容保持不变
type Buffer interface {
	Len() int
	Apply(d delta.Delta) error
	String() string
}

/*
初始内容 "Hello world"，在位置 5 插入 " collaborative" 后：

[
  (orig, offset=0, length=5),   // "Hello"
  (add,  offset=0, length=14),  // " collaborative"
  (orig, offset=5, length=6),   // " world"
]
*/
