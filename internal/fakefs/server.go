// Package fakefs provides a fake document-database server for testing
// purposes. It serves the REST verbs over plain HTTP with programmable stub
// responses, and the listen channel over WebSocket with scripted frames.
//
// Stubs match on HTTP method plus a path suffix, optionally narrowed by a
// body matcher, and are consulted in registration order. Every request is
// recorded so tests can assert on what was sent.
package fakefs

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Stub is a pre-configured response for matching REST requests.
type Stub struct {
	// Method is the HTTP method to match.
	Method string
	// PathSuffix matches the end of the request path (":commit",
	// "/documents/users/alice", ...). Empty matches every path.
	PathSuffix string
	// Match optionally narrows the stub by request body. Nil matches all.
	Match func(body []byte) bool
	// Status is the HTTP status to respond with.
	Status int
	// Response is marshaled as the JSON body. A nil Response sends an
	// empty object.
	Response any
	// Handler, if set, overrides Status/Response and computes the reply
	// from the request body.
	Handler func(body []byte) (int, any)
}

// Request is one recorded REST exchange.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// ListenSession is handed to a listen script when a channel connects.
type ListenSession struct {
	conn *websocket.Conn
}

// Recv blocks for the next inbound frame, decoded into dest.
func (s *ListenSession) Recv(dest any) error {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Send writes one frame as JSON.
func (s *ListenSession) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the channel from the server side.
func (s *ListenSession) Close() error {
	return s.conn.Close()
}

// Server is the fake server. Zero stubs means every REST call is answered
// 404 with an rpc NOT_FOUND body.
type Server struct {
	httpSrv  *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	stubs    []Stub
	requests []Request
	script   func(*ListenSession)
}

// NewServer starts the fake on a random local port.
func NewServer(listenPath string) *Server {
	s := &Server{}
	r := mux.NewRouter()
	r.HandleFunc(listenPath, s.handleListen)
	r.PathPrefix("/").HandlerFunc(s.handleREST)
	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL is the base endpoint to point a client at.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpSrv.Close()
}

// AddStub registers a stub. Stubs are matched in registration order.
func (s *Server) AddStub(st Stub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, st)
}

// OnListen installs the script run for each listen channel that connects.
func (s *Server) OnListen(script func(*ListenSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// Requests returns a copy of every REST request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// LastRequest returns the most recent REST request, or nil.
func (s *Server) LastRequest() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	r := s.requests[len(s.requests)-1]
	return &r
}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   body,
	})
	var matched *Stub
	for i := range s.stubs {
		st := &s.stubs[i]
		if st.Method != "" && st.Method != r.Method {
			continue
		}
		if st.PathSuffix != "" && !hasSuffix(r.URL.Path, st.PathSuffix) {
			continue
		}
		if st.Match != nil && !st.Match(body) {
			continue
		}
		matched = st
		break
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if matched == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"no stub matched","status":"NOT_FOUND"}}`))
		return
	}

	status, resp := matched.Status, matched.Response
	if matched.Handler != nil {
		status, resp = matched.Handler(body)
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp == nil {
		_, _ = w.Write([]byte(`{}`))
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		panic("fakefs: unmarshalable stub response: " + err.Error())
	}
	_, _ = w.Write(data)
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	script := s.script
	s.mu.Unlock()

	sess := &ListenSession{conn: conn}
	if script == nil {
		_ = sess.Close()
		return
	}
	script(sess)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
