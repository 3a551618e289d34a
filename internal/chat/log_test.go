package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidlink/marketplace-core/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func msg(id, sender, content string, sec int) model.Message {
	return model.Message{ID: id, SenderID: sender, Content: content, CreatedAt: at(sec)}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLog_Reconciliation(t *testing.T) {
	t.Run("response then push yields one message", func(t *testing.T) {
		l := NewLog()
		l.AddPending(msg("tmp-1", "me", "hello", 1))

		assert.True(t, l.Confirm("tmp-1", msg("m-1", "me", "hello", 1)))
		assert.False(t, l.ApplyPush(msg("m-1", "me", "hello", 1)))

		got := l.Messages()
		require.Len(t, got, 1)
		assert.Equal(t, "m-1", got[0].ID)
		assert.Equal(t, model.LocalStatusConfirmed, got[0].LocalStatus)
	})

	t.Run("push then response yields one message", func(t *testing.T) {
		l := NewLog()
		l.AddPending(msg("tmp-1", "me", "hello", 1))

		assert.True(t, l.ApplyPush(msg("m-1", "me", "hello", 1)))
		assert.False(t, l.Confirm("tmp-1", msg("m-1", "me", "hello", 1)))

		assert.Equal(t, []string{"m-1"}, ids(l.Messages()))
	})

	t.Run("push of a different content does not steal the pending slot", func(t *testing.T) {
		l := NewLog()
		l.AddPending(msg("tmp-1", "me", "hello", 1))

		l.ApplyPush(msg("m-9", "them", "hi there", 2))
		l.Confirm("tmp-1", msg("m-1", "me", "hello", 1))

		assert.Equal(t, []string{"m-1", "m-9"}, ids(l.Messages()))
	})

	t.Run("duplicate pushes are ignored by id", func(t *testing.T) {
		l := NewLog()
		assert.True(t, l.ApplyPush(msg("m-1", "them", "a", 1)))
		assert.False(t, l.ApplyPush(msg("m-1", "them", "a", 1)))
		assert.False(t, l.ApplyPush(msg("", "them", "no id", 1)))
		assert.Equal(t, 1, l.Len())
	})

	t.Run("same content from the same sender stays two messages", func(t *testing.T) {
		l := NewLog()
		l.AddPending(msg("tmp-1", "me", "ok", 1))
		l.AddPending(msg("tmp-2", "me", "ok", 2))

		l.Confirm("tmp-1", msg("m-1", "me", "ok", 1))
		l.ApplyPush(msg("m-1", "me", "ok", 1))
		l.ApplyPush(msg("m-2", "me", "ok", 2))
		l.Confirm("tmp-2", msg("m-2", "me", "ok", 2))

		assert.Equal(t, []string{"m-1", "m-2"}, ids(l.Messages()))
	})

	t.Run("confirm of an unknown temp id inserts", func(t *testing.T) {
		l := NewLog()
		assert.True(t, l.Confirm("tmp-gone", msg("m-1", "me", "x", 1)))
		assert.Equal(t, []string{"m-1"}, ids(l.Messages()))
	})

	t.Run("failed send is removed", func(t *testing.T) {
		l := NewLog()
		l.AddPending(msg("tmp-1", "me", "oops", 1))

		assert.True(t, l.Remove("tmp-1"))
		assert.False(t, l.Remove("tmp-1"))
		assert.Empty(t, l.Messages())
	})

	t.Run("add pending twice is a no-op", func(t *testing.T) {
		l := NewLog()
		assert.True(t, l.AddPending(msg("tmp-1", "me", "a", 1)))
		assert.False(t, l.AddPending(msg("tmp-1", "me", "a", 1)))
		assert.Equal(t, 1, l.Len())
	})
}

func TestLog_Ordering(t *testing.T) {
	t.Run("sorted by created at", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-3", "a", "3", 3))
		l.ApplyPush(msg("m-1", "a", "1", 1))
		l.ApplyPush(msg("m-2", "a", "2", 2))

		assert.Equal(t, []string{"m-1", "m-2", "m-3"}, ids(l.Messages()))
	})

	t.Run("ties keep arrival order", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-b", "a", "b", 1))
		l.ApplyPush(msg("m-a", "a", "a", 1))
		l.ApplyPush(msg("m-c", "a", "c", 1))

		assert.Equal(t, []string{"m-b", "m-a", "m-c"}, ids(l.Messages()))
	})

	t.Run("confirm keeps the rendered position", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-1", "them", "first", 1))
		l.AddPending(msg("tmp-1", "me", "mine", 2))
		l.ApplyPush(msg("m-3", "them", "third", 3))

		// the server stamped it later than the next message
		l.Confirm("tmp-1", msg("m-2", "me", "mine", 5))

		assert.Equal(t, []string{"m-1", "m-2", "m-3"}, ids(l.Messages()))
	})
}

func TestLog_Reload(t *testing.T) {
	t.Run("pending message survives a reload that predates it", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-1", "them", "hi", 1))
		l.AddPending(msg("tmp-p", "me", "P", 5))

		changed := l.ApplyReload([]model.Message{
			msg("m-1", "them", "hi", 1),
			msg("m-2", "them", "earlier", 3),
			msg("m-3", "them", "later", 8),
		})

		assert.True(t, changed)
		got := l.Messages()
		assert.Equal(t, []string{"m-1", "m-2", "tmp-p", "m-3"}, ids(got))
		assert.True(t, got[2].Pending())
	})

	t.Run("reload replaces confirmed messages", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-1", "them", "hi", 1))
		l.ApplyPush(msg("m-gone", "them", "deleted", 2))

		l.ApplyReload([]model.Message{msg("m-1", "them", "hi (edited)", 1)})

		got := l.Messages()
		require.Len(t, got, 1)
		assert.Equal(t, "hi (edited)", got[0].Content)
	})

	t.Run("pending delivered under a new id is not duplicated", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-1", "me", "ok", 1))
		l.AddPending(msg("tmp-1", "me", "ok", 4))

		l.ApplyReload([]model.Message{
			msg("m-1", "me", "ok", 1),
			msg("m-2", "me", "ok", 4),
		})

		assert.Equal(t, []string{"m-1", "m-2"}, ids(l.Messages()))
	})

	t.Run("earlier identical message does not swallow the pending one", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-1", "me", "ok", 1))
		l.AddPending(msg("tmp-1", "me", "ok", 4))

		l.ApplyReload([]model.Message{msg("m-1", "me", "ok", 1)})

		assert.Equal(t, []string{"m-1", "tmp-1"}, ids(l.Messages()))
	})

	t.Run("messages confirmed after the snapshot was taken are kept", func(t *testing.T) {
		l := NewLog()
		l.ApplyPush(msg("m-1", "them", "hi", 1))
		since := l.Revision()

		l.AddPending(msg("tmp-1", "me", "quick", 2))
		l.Confirm("tmp-1", msg("m-2", "me", "quick", 2))
		l.ApplyPush(msg("m-3", "them", "pushed", 3))

		l.ApplyReloadSince([]model.Message{msg("m-1", "them", "hi", 1)}, since)

		assert.Equal(t, []string{"m-1", "m-2", "m-3"}, ids(l.Messages()))
	})

	t.Run("reload dedups its own input", func(t *testing.T) {
		l := NewLog()
		l.ApplyReload([]model.Message{msg("m-1", "a", "x", 1), msg("m-1", "a", "x", 1)})
		assert.Equal(t, 1, l.Len())
	})

	t.Run("identical reload reports no change", func(t *testing.T) {
		l := NewLog()
		msgs := []model.Message{msg("m-1", "a", "x", 1), msg("m-2", "a", "y", 2)}
		require.True(t, l.ApplyReload(msgs))
		assert.False(t, l.ApplyReload(msgs))
	})

	t.Run("reload then push of the same id is idempotent", func(t *testing.T) {
		l := NewLog()
		l.ApplyReload([]model.Message{msg("m-1", "a", "x", 1)})
		assert.False(t, l.ApplyPush(msg("m-1", "a", "x", 1)))
		assert.Equal(t, 1, l.Len())
	})
}
