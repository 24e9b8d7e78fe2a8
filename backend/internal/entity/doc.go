package entity

import "collabClient/backend/internal/ot/delta"

// Doc 文档的只读快照
type Doc struct {
	ID    string `json:"id"`
	Data  string `json:"data"`
	RevID RevID  `json:"rev_id"`
}

// UndoResult 撤销/重做的结果；Success 为 false 表示栈为空
type UndoResult struct {
	Success  bool           `json:"success"`
	Interval delta.Interval `json:"interval"`
}
