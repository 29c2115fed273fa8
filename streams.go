package http2

// Streams is a connection's stream registry, keyed by stream id per the
// data model: a connection owns many streams, exactly one of them active
// at a time from the dispatcher's point of view.
type Streams struct {
	m map[uint32]*Stream
}

// NewStreams returns an empty registry.
func NewStreams() *Streams {
	return &Streams{m: make(map[uint32]*Stream)}
}

// Insert adds or replaces the stream under its own id.
func (strms *Streams) Insert(s *Stream) {
	strms.m[s.id] = s
}

// Del removes and returns the stream for id, or nil if absent.
func (strms *Streams) Del(id uint32) *Stream {
	s := strms.m[id]
	delete(strms.m, id)
	return s
}

// Get returns the stream for id, or nil if absent.
func (strms *Streams) Get(id uint32) *Stream {
	return strms.m[id]
}

// Len returns the number of tracked streams.
func (strms *Streams) Len() int {
	return len(strms.m)
}

// Each calls fn for every tracked stream; fn must not mutate the registry.
func (strms *Streams) Each(fn func(*Stream)) {
	for _, s := range strms.m {
		fn(s)
	}
}
