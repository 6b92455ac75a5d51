package realtime

// Ticket is a reserved delivery slot in a board room. Mutations reserve a
// ticket while their transaction still holds the scope lock and publish it
// after commit; a room flushes tickets strictly in reservation order, so a
// slow publisher holds back the events reserved after it.
type Ticket struct {
	hub     *Hub
	boardID string
	seq     uint64

	settled bool
	frame   *Frame
	exclude string
}

// Reserve takes the next delivery slot for boardID. Every ticket must end in
// Publish or Cancel.
func (h *Hub) Reserve(boardID string) *Ticket {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &Ticket{hub: h, boardID: boardID, settled: true}
	}
	r := h.roomFor(boardID)
	t := &Ticket{hub: h, boardID: boardID, seq: r.next}
	r.next++
	r.pending[t.seq] = t
	return t
}

// Publish delivers ev to the room, skipping the exclude connection, once every
// earlier ticket for the room has settled. Publishing a settled ticket is a
// no-op.
func (t *Ticket) Publish(ev Event, exclude string) {
	frame, err := encode(ev)
	if err != nil {
		t.hub.logger.Warn().Err(err).Str("event", ev.Name()).Msg("encode event")
		t.Cancel()
		return
	}
	t.hub.settle(t, &frame, exclude)
}

// Cancel releases the slot without delivering anything. Cancelling a
// published ticket is a no-op, so it is safe to defer.
func (t *Ticket) Cancel() {
	t.hub.settle(t, nil, "")
}

func (h *Hub) settle(t *Ticket, frame *Frame, exclude string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.settled {
		return
	}
	t.settled = true
	t.frame = frame
	t.exclude = exclude

	r, ok := h.rooms[t.boardID]
	if !ok {
		return
	}
	for {
		next, ok := r.pending[r.head]
		if !ok || !next.settled {
			break
		}
		delete(r.pending, r.head)
		r.head++
		if next.frame == nil {
			continue
		}
		h.deliverRoom(t.boardID, r, *next.frame, next.exclude)
		h.publishRelay(Envelope{
			Kind:    envelopeBoard,
			BoardID: t.boardID,
			Exclude: next.exclude,
			Name:    next.frame.Name,
			Data:    next.frame.Data,
		})
	}
	h.dropIfIdle(t.boardID, r)
}
