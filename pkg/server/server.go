// Package server maps an inbound request to a response, labelling the caller
// by the network path it arrived over.
package server

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danialdehvan/ReachCheck/pkg/classify"
)

// Request is the part of an HTTP request the dispatcher looks at
type Request struct {
	Method      string
	Path        string
	RemoteAddr  string
	UserAgent   string
	Accept      string
	ContentType string
}

// Response is a fully rendered reply
type Response struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
}

// ServerInfo describes the listening server to route handlers
type ServerInfo struct {
	Host     string
	Port     int
	Platform string
	Started  time.Time
}

// Call carries everything a route needs to render one response
type Call struct {
	Request     Request
	ClientIP    string
	Label       string
	Now         time.Time
	Server      ServerInfo
	Diagnostics Diagnostics
}

// Route renders the response for one path
type Route func(ctx context.Context, call Call) Response

// FallbackPolicy decides what unmatched paths get
type FallbackPolicy int

const (
	// FallbackNotFound answers unmatched paths with 404
	FallbackNotFound FallbackPolicy = iota

	// FallbackHome renders the home page for unmatched paths
	FallbackHome
)

// ParseFallback maps "home" to FallbackHome and anything else to FallbackNotFound
func ParseFallback(s string) FallbackPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "home") {
		return FallbackHome
	}
	return FallbackNotFound
}

// Options configures a Dispatcher
type Options struct {
	Host        string
	Port        int
	Classifier  *classify.Classifier
	Routes      map[string]Route
	Fallback    FallbackPolicy
	Diagnostics Diagnostics
	Logger      *zap.SugaredLogger
	Clock       func() time.Time
	Started     time.Time
}

// Header values attached to responses
const (
	allowOrigin  = "*"
	allowMethods = "GET, POST, OPTIONS, PUT, DELETE"
	allowHeaders = "*"

	notFoundBody = "404 - endpoint not found"
)

// Dispatcher routes requests. It holds no per-request state and is safe for
// concurrent use.
type Dispatcher struct {
	classifier  *classify.Classifier
	routes      map[string]Route
	fallback    FallbackPolicy
	diagnostics Diagnostics
	log         *zap.SugaredLogger
	clock       func() time.Time
	info        ServerInfo
}

// New creates a dispatcher; nil fields get working defaults
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		classifier:  opts.Classifier,
		routes:      opts.Routes,
		fallback:    opts.Fallback,
		diagnostics: opts.Diagnostics,
		log:         opts.Logger,
		clock:       opts.Clock,
		info: ServerInfo{
			Host:     opts.Host,
			Port:     opts.Port,
			Platform: runtime.GOOS,
			Started:  opts.Started,
		},
	}
	if d.classifier == nil {
		d.classifier = classify.New(classify.DefaultRules(), "")
	}
	if d.routes == nil {
		d.routes = DefaultRoutes()
	}
	if d.log == nil {
		d.log = zap.NewNop().Sugar()
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.info.Host == "" {
		d.info.Host = "0.0.0.0"
	}
	if d.info.Started.IsZero() {
		d.info.Started = d.clock()
	}
	return d
}

// Dispatch renders the response for req
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	clientIP := ClientIP(req.RemoteAddr)

	if strings.EqualFold(req.Method, http.MethodOptions) {
		resp := Response{Status: http.StatusOK}
		d.decorate(&resp, false)
		return resp
	}

	path := req.Path
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}

	route, ok := d.routes[path]
	if !ok && d.fallback == FallbackHome {
		route, ok = d.routes["/"]
	}
	if !ok {
		resp := Response{
			Status:      http.StatusNotFound,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(notFoundBody),
		}
		d.decorate(&resp, false)
		return resp
	}

	resp := route(ctx, Call{
		Request:     req,
		ClientIP:    clientIP,
		Label:       d.classifier.Classify(clientIP),
		Now:         d.clock(),
		Server:      d.info,
		Diagnostics: d.diagnostics,
	})
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	d.decorate(&resp, true)
	return resp
}

// ServeHTTP implements http.Handler on top of Dispatch
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		Accept:      r.Header.Get("Accept"),
		ContentType: r.Header.Get("Content-Type"),
	}
	resp := d.Dispatch(r.Context(), req)

	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			d.log.Debugw("write failed", "remote", r.RemoteAddr, "error", err)
		}
	}

	clientIP := ClientIP(r.RemoteAddr)
	d.log.Infow("request",
		"time", d.clock().Format("15:04:05"),
		"remote", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
		"connection_type", d.classifier.Classify(clientIP),
		"status", resp.Status,
	)
}

func (d *Dispatcher) decorate(resp *Response, dynamic bool) {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set("Access-Control-Allow-Origin", allowOrigin)
	resp.Header.Set("Access-Control-Allow-Methods", allowMethods)
	resp.Header.Set("Access-Control-Allow-Headers", allowHeaders)
	if dynamic {
		resp.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		resp.Header.Set("Pragma", "no-cache")
		resp.Header.Set("Expires", "0")
	}
}

// ClientIP extracts the caller address from a RemoteAddr. IPv4-mapped IPv6
// addresses are unmapped so the prefix rules still apply.
func ClientIP(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return host
}
