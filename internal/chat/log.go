package chat

import (
	"sort"
	"time"

	"github.com/bidlink/marketplace-core/internal/model"
)

type entry struct {
	msg model.Message
	seq uint64 // arrival order, breaks CreatedAt ties
	rev uint64 // log revision of the last insert or confirm
}

func (e entry) before(o entry) bool {
	if !e.msg.CreatedAt.Equal(o.msg.CreatedAt) {
		return e.msg.CreatedAt.Before(o.msg.CreatedAt)
	}
	return e.seq < o.seq
}

// Log is the ordered message log of one conversation. It merges optimistic
// inserts, push events and authoritative reloads keyed by message id. Log is
// not safe for concurrent use.
type Log struct {
	entries []entry
	seq     uint64
	rev     uint64
}

func NewLog() *Log {
	return &Log{}
}

// Revision increases with every mutation.
func (l *Log) Revision() uint64 {
	return l.rev
}

func (l *Log) Len() int {
	return len(l.entries)
}

func (l *Log) index(id string) int {
	for i := range l.entries {
		if l.entries[i].msg.ID == id {
			return i
		}
	}
	return -1
}

func (l *Log) Get(id string) (model.Message, bool) {
	if i := l.index(id); i >= 0 {
		return l.entries[i].msg, true
	}
	return model.Message{}, false
}

// insert places msg after every entry that sorts before or equal to it, so
// existing entries keep their relative order.
func (l *Log) insert(msg model.Message) {
	l.seq++
	l.rev++
	e := entry{msg: msg, seq: l.seq, rev: l.rev}

	pos := sort.Search(len(l.entries), func(i int) bool {
		return e.before(l.entries[i])
	})
	l.entries = append(l.entries, entry{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = e
}

func (l *Log) removeAt(i int) {
	l.rev++
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}

// promote turns the pending entry at i into the confirmed msg in place.
func (l *Log) promote(i int, msg model.Message) {
	l.rev++
	e := &l.entries[i]
	e.msg.ID = msg.ID
	if msg.SenderID != "" {
		e.msg.SenderID = msg.SenderID
	}
	e.msg.Content = msg.Content
	e.msg.LocalStatus = model.LocalStatusConfirmed
	e.rev = l.rev
}

// AddPending appends an optimistic message. It reports false if the id is
// already present.
func (l *Log) AddPending(msg model.Message) bool {
	if l.index(msg.ID) >= 0 {
		return false
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.LocalStatus = model.LocalStatusPending
	l.insert(msg)
	return true
}

// Confirm reconciles the pending message tempID with its server copy.
// Whichever of Confirm and ApplyPush lands first wins; the other is a no-op.
func (l *Log) Confirm(tempID string, confirmed model.Message) bool {
	confirmed.LocalStatus = model.LocalStatusConfirmed

	if l.index(confirmed.ID) >= 0 {
		if i := l.index(tempID); i >= 0 && tempID != confirmed.ID {
			l.removeAt(i)
			return true
		}
		return false
	}

	if i := l.index(tempID); i >= 0 {
		l.promote(i, confirmed)
		return true
	}

	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = time.Now()
	}
	l.insert(confirmed)
	return true
}

// ApplyPush adds a message delivered by the live channel. A message whose id
// is already present is ignored. A push that matches a pending message by
// sender and content confirms it in place.
func (l *Log) ApplyPush(msg model.Message) bool {
	if msg.ID == "" || l.index(msg.ID) >= 0 {
		return false
	}
	msg.LocalStatus = model.LocalStatusConfirmed

	for i := range l.entries {
		e := l.entries[i].msg
		if e.Pending() && e.SenderID == msg.SenderID && e.Content == msg.Content {
			l.promote(i, msg)
			return true
		}
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	l.insert(msg)
	return true
}

// ApplyReload replaces the confirmed log with msgs. Pending messages that
// the reload does not contain are kept in their place.
func (l *Log) ApplyReload(msgs []model.Message) bool {
	return l.ApplyReloadSince(msgs, l.rev)
}

// ApplyReloadSince is ApplyReload for a snapshot fetched when the log was at
// revision since: messages inserted or confirmed after since and missing from
// the snapshot are kept too, since the snapshot predates them.
func (l *Log) ApplyReloadSince(msgs []model.Message, since uint64) bool {
	known := make(map[string]bool, len(l.entries))
	for _, e := range l.entries {
		known[e.msg.ID] = true
	}

	incoming := make(map[string]bool, len(msgs))
	fresh := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || incoming[m.ID] {
			continue
		}
		incoming[m.ID] = true
		m.LocalStatus = model.LocalStatusConfirmed
		fresh = append(fresh, m)
	}

	// ids the reload delivered that this log has never seen; a pending
	// message matching one of them by sender and content was delivered
	claimed := make(map[string]bool)
	var kept []entry
	for _, e := range l.entries {
		if incoming[e.msg.ID] {
			continue
		}
		switch {
		case e.msg.Pending():
			if id, ok := matchDelivered(e.msg, fresh, known, claimed); ok {
				claimed[id] = true
				continue
			}
			kept = append(kept, e)
		case e.rev > since:
			kept = append(kept, e)
		}
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})

	old := l.entries
	l.entries = make([]entry, 0, len(fresh)+len(kept))
	l.rev++
	for _, m := range fresh {
		l.seq++
		l.entries = append(l.entries, entry{msg: m, seq: l.seq, rev: l.rev})
	}
	for _, e := range kept {
		pos := sort.Search(len(l.entries), func(i int) bool {
			return e.before(l.entries[i])
		})
		l.entries = append(l.entries, entry{})
		copy(l.entries[pos+1:], l.entries[pos:])
		l.entries[pos] = e
	}

	return !sameMessages(old, l.entries)
}

func matchDelivered(pending model.Message, fresh []model.Message, known, claimed map[string]bool) (string, bool) {
	for _, m := range fresh {
		if known[m.ID] || claimed[m.ID] {
			continue
		}
		if m.SenderID == pending.SenderID && m.Content == pending.Content {
			return m.ID, true
		}
	}
	return "", false
}

func sameMessages(a, b []entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].msg != b[i].msg {
			return false
		}
	}
	return true
}

// Remove drops the message with id, typically a pending message whose send
// failed.
func (l *Log) Remove(id string) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	l.removeAt(i)
	return true
}

// Messages returns the log sorted by CreatedAt, ties in arrival order.
func (l *Log) Messages() []model.Message {
	out := make([]model.Message, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.msg
	}
	return out
}
