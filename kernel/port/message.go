package port

// Message is the in-kernel record spec.md §3 describes: sender task id,
// the right the sender invoked (0 for kernel-originated messages), a copy
// of the payload, and up to four rights being transferred atomically with
// it.
type Message struct {
	Sender   uint64
	RightID  uint64
	Payload  []byte
	attached []capability
}

// maxAttached is the fixed limit on rights per message (spec.md §4.4).
const maxAttached = 4

// Info is the non-blocking peek result returned by GetMessageInfo.
type Info struct {
	SenderID      uint64
	RightID       uint64
	Size          int
	AttachedCount int
}
