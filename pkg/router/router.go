// Package router classifies a raw request buffer into one of a small fixed set
// of routes by literal byte prefix.
//
// There is no header parsing: a request that spans more than one read is
// classified from whatever the first read returned.
package router

import (
	"bytes"
	"time"
)

// Route is the classified intent of an inbound request.
type Route int

const (
	BadRequest Route = iota
	Homepage
	Favicon
	Login
)

func (r Route) String() string {
	switch r {
	case Homepage:
		return "homepage"
	case Favicon:
		return "favicon"
	case Login:
		return "login"
	default:
		return "bad_request"
	}
}

// DefaultBufferSize is the size of the single read a request is classified from.
const DefaultBufferSize = 1024

var (
	prefixHome    = []byte("GET / HTTP/1.1\r\n")
	prefixFavicon = []byte("GET /favicon.ico HTTP/1.1\r\n")
	prefixLogin   = []byte("POST /login")
	prefixSleep   = []byte("GET /sleep HTTP/1.1\r\n")

	headerDelimiter = []byte("\r\n\r\n")
)

// Config holds router settings.
type Config struct {
	// BufferSize is the capacity of the read buffer handed to Classify.
	BufferSize int

	// SlowDelay is the artificial delay attached to GET /sleep.
	SlowDelay time.Duration
}

// Request is the result of classifying one buffer.
type Request struct {
	Route Route

	// Payload is everything after the first CRLFCRLF. Only set for Login.
	Payload []byte

	// Delay is non-zero for the slow route; the handler waits this long
	// before resolving.
	Delay time.Duration
}

// Router is a stateless prefix classifier.
type Router struct {
	bufferSize int
	slowDelay  time.Duration
}

// New creates a router. A zero BufferSize selects DefaultBufferSize; a zero
// SlowDelay selects five seconds.
func New(cfg Config) *Router {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.SlowDelay == 0 {
		cfg.SlowDelay = 5 * time.Second
	}
	return &Router{bufferSize: cfg.BufferSize, slowDelay: cfg.SlowDelay}
}

// BufferSize returns the size of the buffer requests should be read into.
func (r *Router) BufferSize() int {
	return r.bufferSize
}

// Classify maps buf to a route. Priority order: homepage, favicon, login,
// slow homepage, then bad request.
//
// A login request without a CRLFCRLF delimiter degrades to BadRequest.
func (r *Router) Classify(buf []byte) Request {
	switch {
	case bytes.HasPrefix(buf, prefixHome):
		return Request{Route: Homepage}

	case bytes.HasPrefix(buf, prefixFavicon):
		return Request{Route: Favicon}

	case bytes.HasPrefix(buf, prefixLogin):
		idx := bytes.Index(buf, headerDelimiter)
		if idx < 0 {
			return Request{Route: BadRequest}
		}
		return Request{Route: Login, Payload: buf[idx+len(headerDelimiter):]}

	case bytes.HasPrefix(buf, prefixSleep):
		return Request{Route: Homepage, Delay: r.slowDelay}

	default:
		return Request{Route: BadRequest}
	}
}
