package collab

import "unicode/utf8"

type OpKind string

const (
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
)

// Operation：编辑原语。构造后不可变，位置/长度都按 rune 计。
// JSON 字段沿用线上协议：{"pos":..,"text":..,"op_type":..}
type Operation struct {
	Position int    `json:"pos"`
	Text     string `json:"text"`
	Kind     OpKind `json:"op_type"`
}

// Transform 根据一个已应用的并发操作调整 incoming 的位置，返回调整后的副本。
// 规则（简化版，刻意不做完整 OT/CRDT）：
//   - concurrent 是 incoming.Position 及之前的 insert：incoming 右移 len(concurrent.Text)
//   - concurrent 是严格在 incoming.Position 之前的 delete：
//     incoming 左移 min(len(concurrent.Text), incoming.Position-concurrent.Position)
//   - 其他情况不变
//
// 已知缺陷（记录在案，不在此修复）：只对广播边界上的前一个并发操作做两两变换，
// 没有因果/版本向量，高并发下不保证所有客户端收敛到同一内容。
func Transform(incoming, concurrent Operation) Operation {
	switch concurrent.Kind {
	case OpInsert:
		if concurrent.Position <= incoming.Position {
			incoming.Position += utf8.RuneCountInString(concurrent.Text)
		}
	case OpDelete:
		if concurrent.Position < incoming.Position {
			shift := utf8.RuneCountInString(concurrent.Text)
			if d := incoming.Position - concurrent.Position; d < shift {
				shift = d
			}
			incoming.Position -= shift
			if incoming.Position < 0 {
				incoming.Position = 0
			}
		}
	}
	return incoming
}

// Apply 把单个操作套用到内容上。
// insert 在 pos 处拼接；delete 从 pos 起删 len(op.Text) 个字符，
// 越过内容末尾按截断处理，不报错。
func Apply(content string, op Operation) string {
	r := []rune(content)
	pos := op.Position
	if pos < 0 {
		pos = 0
	}
	if pos > len(r) {
		pos = len(r)
	}
	switch op.Kind {
	case OpInsert:
		out := make([]rune, 0, len(r)+utf8.RuneCountInString(op.Text))
		out = append(out, r[:pos]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, r[pos:]...)
		return string(out)
	case OpDelete:
		end := pos + utf8.RuneCountInString(op.Text)
		if end > len(r) {
			end = len(r)
		}
		out := make([]rune, 0, len(r)-(end-pos))
		out = append(out, r[:pos]...)
		out = append(out, r[end:]...)
		return string(out)
	}
	return content
}
