// Command h2reactord runs an h2c (cleartext, prior-knowledge) HTTP/2
// listener that echoes each request back as its response body.
//
// Grounded on the reference stack's demo/main.go shape: a flag-configured
// address, a logger, and a single handler function wired into the server.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	http2 "github.com/domsolutions/h2reactor"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "address to listen on")
	pingInterval := flag.Duration("ping-interval", 0, "keepalive PING interval, 0 disables")
	pingTimeout := flag.Duration("ping-timeout", 15*time.Second, "time to wait for a PING ack before disconnecting")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	srv := http2.NewServer(http2.ServerOpts{
		Addr:   *addr,
		Logger: log,
		ConnOpts: http2.ConnOpts{
			PingInterval: *pingInterval,
			PingTimeout:  *pingTimeout,
		},
	}, echoHandler)

	log.Info("listening", "addr", *addr)
	if err := srv.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func echoHandler(req *http2.Request) *http2.Response {
	resp := http2.NewResponse(req.Body)
	resp.AddHeader("content-type", req.Header("content-type"))
	resp.AddHeader("x-echo-method", req.Method)
	resp.AddHeader("x-echo-path", req.Path)
	return resp
}
