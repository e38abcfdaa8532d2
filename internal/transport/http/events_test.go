package http

import (
	"bytes"
	"testing"
	"time"

	"bazaar/internal/dto"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCursorNeverRepeats(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := dto.MessageResponse{ID: uuid.NewString(), CreatedAt: t0}
	b := dto.MessageResponse{ID: uuid.NewString(), CreatedAt: t0}
	c := dto.MessageResponse{ID: uuid.NewString(), CreatedAt: t0.Add(time.Millisecond)}

	cur := newCursor([]dto.MessageResponse{a}, time.Second)
	assert.Equal(t, t0, cur.since)
	assert.Equal(t, t0.Add(-time.Second), cur.from())

	assert.Equal(t, []dto.MessageResponse{b}, cur.fresh([]dto.MessageResponse{a, b}))
	assert.Empty(t, cur.fresh([]dto.MessageResponse{a, b}))

	assert.Equal(t, []dto.MessageResponse{c}, cur.fresh([]dto.MessageResponse{a, b, c}))
	assert.Equal(t, t0.Add(time.Millisecond), cur.since)
	assert.Empty(t, cur.fresh([]dto.MessageResponse{a, b, c}))

	assert.Empty(t, cur.fresh([]dto.MessageResponse{{ID: "bogus", CreatedAt: t0.Add(time.Hour)}}))
}

func TestCursorDeliversLateCommittedRows(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	early := dto.MessageResponse{ID: uuid.NewString(), CreatedAt: t0}
	late := dto.MessageResponse{ID: uuid.NewString(), CreatedAt: t0.Add(10 * time.Millisecond)}

	cur := newCursor(nil, time.Second)
	assert.True(t, cur.from().IsZero())

	// The later-stamped row commits first.
	assert.Equal(t, []dto.MessageResponse{late}, cur.fresh([]dto.MessageResponse{late}))
	assert.False(t, cur.from().After(early.CreatedAt), "next poll must reach back past the earlier stamp")

	assert.Equal(t, []dto.MessageResponse{early}, cur.fresh([]dto.MessageResponse{early, late}))
	assert.Empty(t, cur.fresh([]dto.MessageResponse{early, late}))
}

func TestCursorPrunesOutsideWindow(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	old := dto.MessageResponse{ID: uuid.NewString(), CreatedAt: t0}
	cur := newCursor([]dto.MessageResponse{old}, time.Second)

	next := dto.MessageResponse{ID: uuid.NewString(), CreatedAt: t0.Add(time.Minute)}
	cur.fresh([]dto.MessageResponse{next})
	assert.Len(t, cur.seen, 1)
	assert.Contains(t, cur.seen, uuid.MustParse(next.ID))
}

func TestWriteEventFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, writeEvent(&buf, "ping", map[string]int64{"ts": 1}))
	assert.Equal(t, "event: ping\ndata: {\"ts\":1}\n\n", buf.String())
}
