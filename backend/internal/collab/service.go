package collab

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AppliedOp：服务端已应用的操作，广播和事件载荷都从这里取。
type AppliedOp struct {
	OperationID string    `json:"operationId"`
	DocID       string    `json:"docId"`
	AuthorID    uint64    `json:"authorId"`
	Op          Operation `json:"operation"`
	Revision    uint64    `json:"revision"`
	AppliedAt   time.Time `json:"appliedAt"`
}

// 单文档状态：live buffer + 版本号 + 最近一次已应用操作。
// 每个文档一把锁（single-writer），跨文档互不阻塞。
type docState struct {
	mu       sync.Mutex
	buf      Buffer
	revision uint64
	// 最近一次已应用操作，作为两两变换的 concurrent 参照
	lastOp *Operation
}

// Service：协作引擎（内存实现）。持久化的文档文本归外部文档服务管，
// 这里只维护 live buffer 和编辑流。
type Service struct {
	mu   sync.RWMutex
	docs map[string]*docState
}

func NewService() *Service {
	return &Service{docs: make(map[string]*docState)}
}

// 获取或创建指定文档的状态
func (s *Service) getOrCreateDoc(docID string) *docState {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds != nil {
		return ds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds = s.docs[docID]; ds == nil {
		ds = &docState{buf: NewPieceTable("")}
		s.docs[docID] = ds
	}
	return ds
}

// Submit 提交一个编辑操作：先对最近一次并发操作做变换，再套用到 live buffer。
// 变换/截断的边缘情况不会对提交方报错：客户端本地已经反映了自己的修改。
func (s *Service) Submit(ctx context.Context, docID string, authorID uint64, op Operation) (AppliedOp, error) {
	ds := s.getOrCreateDoc(docID)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.lastOp != nil {
		op = Transform(op, *ds.lastOp)
	}

	switch op.Kind {
	case OpInsert:
		ds.buf.Insert(op.Position, op.Text)
	case OpDelete:
		ds.buf.Delete(op.Position, len([]rune(op.Text)))
	}

	ds.revision++
	applied := op
	ds.lastOp = &applied

	return AppliedOp{
		OperationID: uuid.NewString(),
		DocID:       docID,
		AuthorID:    authorID,
		Op:          op,
		Revision:    ds.revision,
		AppliedAt:   time.Now().UTC(),
	}, nil
}

// Content 返回文档当前的 live buffer 内容和版本号。
func (s *Service) Content(ctx context.Context, docID string) (string, uint64) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return "", 0
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.buf.String(), ds.revision
}

// CurrentRevision 返回当前文档版本（不存在的文档视为 0）。
func (s *Service) CurrentRevision(ctx context.Context, docID string) uint64 {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return 0
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.revision
}
