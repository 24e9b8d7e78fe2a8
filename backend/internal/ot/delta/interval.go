package delta

import "fmt"

// Interval 半开区间 [Start, End)，按 rune 计
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func NewInterval(start, end int) Interval { return Interval{Start: start, End: end} }

func (iv Interval) Len() int { return iv.End - iv.Start }

func (iv Interval) IsEmpty() bool { return iv.End <= iv.Start }

func (iv Interval) String() string { return fmt.Sprintf("[%d,%d)", iv.Start, iv.End) }

// within 判断区间是否落在长度为 n 的文档内
func (iv Interval) within(n int) bool {
	return iv.Start >= 0 && iv.Start <= iv.End && iv.End <= n
}

// Span 返回 d 在应用后的文档里影响到的区间，纯 retain 的 Delta 返回空区间
func (d Delta) Span() Interval {
	pos, start, end := 0, -1, 0
	for _, op := range d {
		switch {
		case op.Kind == KindRetain && op.Attrs == nil:
			pos += op.Count
		case op.Kind == KindDelete:
			if start < 0 {
				start = pos
			}
			end = max(end, pos)
		default:
			if start < 0 {
				start = pos
			}
			pos += op.Len()
			end = pos
		}
	}
	if start < 0 {
		return Interval{}
	}
	return Interval{Start: start, End: end}
}
