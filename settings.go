package http2

import "golang.org/x/net/http2"

// Default settings values per RFC 9113 §6.5.2, carried over unchanged from
// the wire spec: a server that never sends a SETTINGS frame still behaves
// as if it advertised these.
const (
	defaultHeaderTableSize   uint32 = 4096
	defaultEnablePush               = true
	defaultMaxConcurrentStreams uint32 = 0 // 0 == unlimited
	defaultInitialWindowSize uint32 = 1<<16 - 1
	defaultMaxFrameSize      uint32 = 1 << 14
	defaultMaxHeaderListSize uint32 = 0 // 0 == unlimited

	maxWindowSize = 1<<31 - 1
	maxFrameSize  = 1<<24 - 1
)

// Settings holds one endpoint's view of the negotiated parameters for a
// connection. A ConnectionContext keeps two: the values it advertised, and
// the peer's, applied in place as SETTINGS frames arrive.
type Settings struct {
	headerTableSize      uint32
	enablePush           bool
	maxConcurrentStreams uint32
	initialWindowSize    uint32
	frameSize            uint32
	maxHeaderListSize    uint32
}

// NewDefaultSettings returns a Settings populated with RFC 9113 defaults.
func NewDefaultSettings() *Settings {
	return &Settings{
		headerTableSize:      defaultHeaderTableSize,
		enablePush:           defaultEnablePush,
		maxConcurrentStreams: defaultMaxConcurrentStreams,
		initialWindowSize:    defaultInitialWindowSize,
		frameSize:            defaultMaxFrameSize,
		maxHeaderListSize:    defaultMaxHeaderListSize,
	}
}

func (st *Settings) HeaderTableSize() uint32      { return st.headerTableSize }
func (st *Settings) EnablePush() bool             { return st.enablePush }
func (st *Settings) MaxConcurrentStreams() uint32 { return st.maxConcurrentStreams }
func (st *Settings) InitialWindowSize() uint32    { return st.initialWindowSize }
func (st *Settings) MaxFrameSize() uint32         { return st.frameSize }
func (st *Settings) MaxHeaderListSize() uint32    { return st.maxHeaderListSize }

func (st *Settings) SetHeaderTableSize(v uint32)      { st.headerTableSize = v }
func (st *Settings) SetEnablePush(v bool)             { st.enablePush = v }
func (st *Settings) SetMaxConcurrentStreams(v uint32) { st.maxConcurrentStreams = v }
func (st *Settings) SetInitialWindowSize(v uint32)    { st.initialWindowSize = v }
func (st *Settings) SetMaxFrameSize(v uint32)         { st.frameSize = v }
func (st *Settings) SetMaxHeaderListSize(v uint32)    { st.maxHeaderListSize = v }

// CopyTo duplicates st into other.
func (st *Settings) CopyTo(other *Settings) { *other = *st }

// Apply updates st from a decoded SETTINGS frame's entries, per RFC 9113
// §6.5.2's per-identifier semantics. Unknown identifiers are ignored, as
// the RFC requires.
func (st *Settings) Apply(settings []http2.Setting) error {
	for _, s := range settings {
		switch s.ID {
		case http2.SettingHeaderTableSize:
			st.headerTableSize = s.Val
		case http2.SettingEnablePush:
			if s.Val > 1 {
				return newErr("settings.apply", KindInvalidStream, nil)
			}
			st.enablePush = s.Val == 1
		case http2.SettingMaxConcurrentStreams:
			st.maxConcurrentStreams = s.Val
		case http2.SettingInitialWindowSize:
			if s.Val > maxWindowSize {
				return newErr("settings.apply", KindInvalidStream, nil)
			}
			st.initialWindowSize = s.Val
		case http2.SettingMaxFrameSize:
			if s.Val < defaultMaxFrameSize || s.Val > maxFrameSize {
				return newErr("settings.apply", KindInvalidStream, nil)
			}
			st.frameSize = s.Val
		case http2.SettingMaxHeaderListSize:
			st.maxHeaderListSize = s.Val
		}
	}
	return nil
}

// AsWireSettings returns st encoded as the []http2.Setting slice the frame
// codec expects when writing an outbound SETTINGS frame (the handshake
// advertisement this engine sends right after accepting a connection).
func (st *Settings) AsWireSettings() []http2.Setting {
	push := uint32(0)
	if st.enablePush {
		push = 1
	}
	return []http2.Setting{
		{ID: http2.SettingHeaderTableSize, Val: st.headerTableSize},
		{ID: http2.SettingEnablePush, Val: push},
		{ID: http2.SettingMaxConcurrentStreams, Val: st.maxConcurrentStreams},
		{ID: http2.SettingInitialWindowSize, Val: st.initialWindowSize},
		{ID: http2.SettingMaxFrameSize, Val: st.frameSize},
		{ID: http2.SettingMaxHeaderListSize, Val: st.maxHeaderListSize},
	}
}
