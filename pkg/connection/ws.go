package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/firelite/firelite.go/internal/rand"
	"github.com/firelite/firelite.go/pkg/constants"
	"github.com/firelite/firelite.go/pkg/logger"
)

// DefaultDialer is the gorilla dialer used for stream channels, with
// compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// StreamDialer opens stream channels against the listen endpoint. One
// channel serves exactly one subscription.
type StreamDialer struct {
	baseURL      string
	databasePath string
	token        TokenProvider
	logger       logger.Logger
	dialer       *gorilla.Dialer
}

func NewStreamDialer(p NewConnectionParams) *StreamDialer {
	d := &StreamDialer{
		baseURL:      p.BaseURL,
		databasePath: p.DatabasePath,
		token:        p.Token,
		logger:       p.Logger,
		dialer:       DefaultDialer,
	}
	if d.logger == nil {
		d.logger = logger.Nop{}
	}
	return d
}

// Dial opens a fresh channel and starts its reader.
func (d *StreamDialer) Dial(ctx context.Context) (*StreamChannel, error) {
	wsURL, err := d.channelURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if d.token != nil {
		token, err := d.token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, res, err := d.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	sc := &StreamChannel{
		conn:      conn,
		frames:    make(chan *ListenResponse, 16),
		closeChan: make(chan struct{}),
		logger:    d.logger,
	}
	go sc.readLoop()
	return sc, nil
}

func (d *StreamDialer) channelURL() (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case constants.HTTPScheme:
		u.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme:
		u.Scheme = constants.WebsocketSecureScheme
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + constants.ListenChannelPath

	sid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("database", d.databasePath)
	q.Set("sid", sid.String())
	q.Set("rid", rand.NewRequestID(constants.RequestIDLength))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StreamChannel is one live bidirectional channel. Frames() yields inbound
// frames until the channel ends; Err() then reports why.
type StreamChannel struct {
	conn     *gorilla.Conn
	connLock sync.Mutex

	frames    chan *ListenResponse
	closeOnce sync.Once
	closeChan chan struct{}

	errLock  sync.Mutex
	closeErr error

	logger logger.Logger
}

// Send writes one outbound frame.
func (s *StreamChannel) Send(ctx context.Context, req *ListenRequest) error {
	select {
	case <-s.closeChan:
		return constants.ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling listen request: %w", err)
	}

	s.connLock.Lock()
	defer s.connLock.Unlock()
	return s.conn.WriteMessage(gorilla.TextMessage, data)
}

// Frames returns the inbound frame channel. It is closed when the stream
// ends, whether by Close or by a channel error.
func (s *StreamChannel) Frames() <-chan *ListenResponse {
	return s.frames
}

// Err reports the terminal channel error, if any. Valid after Frames() is
// closed. A nil result means a clean local Close.
func (s *StreamChannel) Err() error {
	s.errLock.Lock()
	defer s.errLock.Unlock()
	return s.closeErr
}

// Close tears the channel down. It is idempotent: every call after the
// first is a no-op, including calls racing the open handshake.
func (s *StreamChannel) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeChan)

		s.connLock.Lock()
		werr := s.conn.WriteMessage(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		s.connLock.Unlock()
		if werr != nil {
			s.logger.Debug("failed to write close message", "error", werr)
		}

		err = s.conn.Close()
	})
	return err
}

func (s *StreamChannel) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeChan:
				// Local close, not an error.
			default:
				s.setErr(err)
				_ = s.Close()
			}
			return
		}

		frame, err := parseListenResponse(data)
		if err != nil {
			s.logger.Error("dropping unparseable frame", "error", err)
			continue
		}
		select {
		case s.frames <- frame:
		case <-s.closeChan:
			return
		}
	}
}

func (s *StreamChannel) setErr(err error) {
	s.errLock.Lock()
	s.closeErr = err
	s.errLock.Unlock()
}

// frameKeys are the mutually exclusive variants of an inbound frame.
var frameKeys = []string{"targetChange", "documentChange", "documentDelete", "documentRemove", "filter"}

// parseListenResponse peeks at which variant key is present and decodes only
// that sub-object, avoiding a second full decode of the frame.
func parseListenResponse(data []byte) (*ListenResponse, error) {
	for _, key := range frameKeys {
		raw, _, _, err := jsonparser.Get(data, key)
		if err != nil {
			continue
		}
		res := &ListenResponse{}
		var dest any
		switch key {
		case "targetChange":
			res.TargetChange = &TargetChange{}
			dest = res.TargetChange
		case "documentChange":
			res.DocumentChange = &DocumentChange{}
			dest = res.DocumentChange
		case "documentDelete":
			res.DocumentDelete = &DocumentDelete{}
			dest = res.DocumentDelete
		case "documentRemove":
			res.DocumentRemove = &DocumentRemove{}
			dest = res.DocumentRemove
		case "filter":
			res.Filter = &ExistenceFilter{}
			dest = res.Filter
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return nil, fmt.Errorf("decoding %s frame: %w", key, err)
		}
		return res, nil
	}
	return nil, fmt.Errorf("frame has no recognized variant")
}
