package mqtt

// msgKind classifies buffered messages for eviction.
type msgKind int

const (
	kindTransition msgKind = iota
	kindSummary
	kindSystem
)

// bufferedMsg is a serialized message held for replay after reconnection.
type bufferedMsg struct {
	kind     msgKind
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable.
// When full it evicts the oldest transition, or the oldest message when no
// transition is held.
// Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{msgs: make([]bufferedMsg, 0, capacity), capacity: capacity}
}

// push queues msg. It reports true for the first eviction since the last drain.
func (o *outbox) push(msg bufferedMsg) bool {
	if len(o.msgs) < o.capacity {
		o.msgs = append(o.msgs, msg)
		return false
	}
	victim := 0
	for i, m := range o.msgs {
		if m.kind == kindTransition {
			victim = i
			break
		}
	}
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	o.msgs = append(o.msgs, msg)
	o.dropped++
	return o.dropped == 1
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = make([]bufferedMsg, 0, o.capacity)
	o.dropped = 0
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
