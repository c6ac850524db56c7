package pools

import (
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// maxNotices bounds what one connection buffers between drains.
const maxNotices = 1000

// noticeBuffer collects server notices per physical connection until the
// borrower drains them.
type noticeBuffer struct {
	mu      sync.Mutex
	notices map[*pgconn.PgConn][]*pgconn.Notice
}

func newNoticeBuffer() *noticeBuffer {
	return &noticeBuffer{notices: make(map[*pgconn.PgConn][]*pgconn.Notice)}
}

func (b *noticeBuffer) add(pc *pgconn.PgConn, n *pgconn.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.notices[pc]) >= maxNotices {
		return
	}
	b.notices[pc] = append(b.notices[pc], n)
}

func (b *noticeBuffer) take(pc *pgconn.PgConn) []*pgconn.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.notices[pc]
	delete(b.notices, pc)
	return n
}
