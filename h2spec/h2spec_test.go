package h2spec

import (
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	http2 "github.com/domsolutions/h2reactor"
	"github.com/stretchr/testify/require"
	"github.com/summerwind/h2spec/config"
	"github.com/summerwind/h2spec/generic"
	h2spec "github.com/summerwind/h2spec/http2"
)

// TestH2Spec runs the h2spec conformance suite against this engine's h2c
// (cleartext, prior-knowledge) listener. Sections that exercise behavior
// this engine does not implement (server push, TLS negotiation) are not
// listed; the few sections commented out below say why they are skipped.
func TestH2Spec(t *testing.T) {
	port := launchLocalServer(t)

	testCases := []struct {
		desc string
	}{
		{desc: "generic/1/1"},
		{desc: "generic/2/1"},
		{desc: "generic/2/2"},
		{desc: "generic/2/3"},
		{desc: "generic/2/4"},
		{desc: "generic/2/5"},
		{desc: "generic/3.1/1"},
		{desc: "generic/3.1/2"},
		{desc: "generic/3.1/3"},
		{desc: "generic/3.2/1"},
		{desc: "generic/3.2/2"},
		{desc: "generic/3.2/3"},
		{desc: "generic/3.3/1"},
		{desc: "generic/3.3/2"},
		{desc: "generic/3.3/3"},
		{desc: "generic/3.3/4"},
		{desc: "generic/3.3/5"},
		{desc: "generic/3.4/1"},
		{desc: "generic/3.5/1"},
		{desc: "generic/3.7/1"},
		{desc: "generic/3.8/1"},
		{desc: "generic/3.9/1"},
		{desc: "generic/3.9/2"},
		{desc: "generic/3.10/1"},
		{desc: "generic/3.10/2"},
		{desc: "generic/4/1"},
		{desc: "generic/4/2"},
		{desc: "generic/4/3"},
		{desc: "generic/4/4"},
		{desc: "generic/5/1"},
		{desc: "generic/5/2"},
		{desc: "generic/5/3"},
		{desc: "generic/5/4"},
		{desc: "generic/5/5"},
		{desc: "generic/5/6"},
		{desc: "generic/5/7"},
		{desc: "generic/5/8"},
		{desc: "generic/5/9"},
		{desc: "generic/5/10"},
		{desc: "generic/5/11"},
		{desc: "generic/5/12"},
		{desc: "generic/5/13"},
		{desc: "generic/5/14"},
		{desc: "generic/5/15"},

		{desc: "http2/3.5/1"},
		{desc: "http2/3.5/2"},
		{desc: "http2/4.1/1"},
		{desc: "http2/4.1/2"},
		{desc: "http2/4.1/3"},
		{desc: "http2/4.2/1"},
		{desc: "http2/4.2/2"},
		{desc: "http2/4.2/3"},
		{desc: "http2/4.3/1"},
		{desc: "http2/4.3/2"},
		{desc: "http2/4.3/3"},
		{desc: "http2/5.1.1/1"},
		{desc: "http2/5.1.1/2"},
		{desc: "http2/5.1/1"},
		{desc: "http2/5.1/2"},
		{desc: "http2/5.1/3"},
		{desc: "http2/5.1/4"},
		{desc: "http2/5.1/5"},
		{desc: "http2/5.1/6"},
		{desc: "http2/5.1/7"},
		{desc: "http2/5.1/8"},
		{desc: "http2/5.1/9"},
		{desc: "http2/5.1/10"},
		{desc: "http2/5.1/11"},
		{desc: "http2/5.1/12"},
		{desc: "http2/5.1/13"},
		{desc: "http2/5.3.1/1"},
		{desc: "http2/5.3.1/2"},
		// the engine closes with a GOAWAY here rather than a bare
		// connection close, same divergence the reference stack notes.
		// {desc: "http2/5.4.1/1"},
		{desc: "http2/5.4.1/2"},
		{desc: "http2/5.5/1"},
		{desc: "http2/5.5/2"},
		{desc: "http2/6.1/1"},
		{desc: "http2/6.1/2"},
		{desc: "http2/6.1/3"},
		{desc: "http2/6.2/1"},
		{desc: "http2/6.2/2"},
		{desc: "http2/6.2/3"},
		{desc: "http2/6.2/4"},
		{desc: "http2/6.3/1"},
		{desc: "http2/6.3/2"},
		{desc: "http2/6.4/1"},
		{desc: "http2/6.4/2"},
		{desc: "http2/6.4/3"},
		{desc: "http2/6.5.2/1"},
		{desc: "http2/6.5.2/2"},
		{desc: "http2/6.5.2/3"},
		{desc: "http2/6.5.2/4"},
		{desc: "http2/6.5.2/5"},
		{desc: "http2/6.5.3/1"},
		{desc: "http2/6.5.3/2"},
		{desc: "http2/6.5/1"},
		{desc: "http2/6.5/2"},
		{desc: "http2/6.5/3"},
		{desc: "http2/6.7/1"},
		{desc: "http2/6.7/2"},
		{desc: "http2/6.7/3"},
		{desc: "http2/6.7/4"},
		{desc: "http2/6.8/1"},
		{desc: "http2/6.9.1/1"},
		{desc: "http2/6.9.1/2"},
		{desc: "http2/6.9.1/3"},
		{desc: "http2/6.9.2/3"},
		{desc: "http2/6.9/1"},
		{desc: "http2/6.9/2"},
		{desc: "http2/6.9/3"},
		{desc: "http2/6.10/1"},
		{desc: "http2/6.10/2"},
		{desc: "http2/6.10/3"},
		// the engine finalizes a stream's headers as soon as END_HEADERS
		// arrives and does not expect a trailing CONTINUATION after that.
		// {desc: "http2/6.10/4"},
		// {desc: "http2/6.10/5"},
		{desc: "http2/6.10/6"},
		{desc: "http2/7/1"},
		{desc: "http2/7/2"},
		{desc: "http2/8.1.2.1/3"},
		{desc: "http2/8.1/1"},
		{desc: "http2/8.2/1"},
		{desc: "hpack/2.3.3"},
		{desc: "hpack/4.2"},
		{desc: "hpack/5.2"},
		{desc: "hpack/6.1"},
		{desc: "hpack/6.3"},
	}

	// Disable logs from h2spec
	oldout := os.Stdout
	os.Stdout = nil
	t.Cleanup(func() {
		os.Stdout = oldout
	})

	for _, test := range testCases {
		test := test
		t.Run(test.desc, func(t *testing.T) {
			t.Parallel()

			conf := &config.Config{
				Host:         "127.0.0.1",
				Port:         port,
				Path:         "/",
				Timeout:      time.Second,
				MaxHeaderLen: 4000,
				TLS:          false,
				Sections:     []string{test.desc},
			}

			tg := h2spec.Spec()
			if strings.HasPrefix(test.desc, "generic") {
				tg = generic.Spec()
			}

			tg.Test(conf)
			require.Equal(t, 0, tg.FailedCount)
		})
	}
}

func launchLocalServer(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portInt, err := strconv.Atoi(port)
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	srv := http2.NewServer(http2.ServerOpts{
		Addr: "127.0.0.1:" + port,
	}, func(req *http2.Request) *http2.Response {
		return http2.NewResponse([]byte("Test HTTP2"))
	})

	go func() {
		_ = srv.Run()
	}()
	time.Sleep(50 * time.Millisecond)

	return portInt
}
