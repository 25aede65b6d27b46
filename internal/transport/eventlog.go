package transport

// streamEvent is one server-push message with its replay sequence number.
// Sequence numbers are emitted as SSE event ids and start at 1.
type streamEvent struct {
	seq  uint64
	data []byte
}

// eventLog is a bounded buffer of push events, kept so a reconnecting
// client can resume from a Last-Event-ID. Not safe for concurrent use; the
// owning engine serializes access.
type eventLog struct {
	capacity int
	nextSeq  uint64
	events   []streamEvent
}

func newEventLog(capacity int) *eventLog {
	if capacity < 0 {
		capacity = 0
	}
	return &eventLog{capacity: capacity, nextSeq: 1}
}

// append stores data and returns its sequence number. When the buffer is
// full the oldest event is evicted; sequence numbers never rewind, so a
// replay request older than the buffer returns what remains.
func (l *eventLog) append(data []byte) uint64 {
	seq := l.nextSeq
	l.nextSeq++

	if l.capacity == 0 {
		return seq
	}
	l.events = append(l.events, streamEvent{seq: seq, data: data})
	if len(l.events) > l.capacity {
		overflow := len(l.events) - l.capacity
		l.events = append(l.events[:0], l.events[overflow:]...)
	}
	return seq
}

// after returns a copy of all buffered events with sequence numbers greater
// than seq, in emission order.
func (l *eventLog) after(seq uint64) []streamEvent {
	start := len(l.events)
	for i, ev := range l.events {
		if ev.seq > seq {
			start = i
			break
		}
	}
	out := make([]streamEvent, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// latest returns the highest sequence number assigned so far, zero when
// nothing has been appended.
func (l *eventLog) latest() uint64 {
	return l.nextSeq - 1
}
