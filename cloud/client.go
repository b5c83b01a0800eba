package cloud

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-errors/errors"
	"github.com/gorilla/websocket"
	"github.com/the-lightning-land/fotad/fota"
	"github.com/the-lightning-land/fotad/keystore"
	"github.com/the-lightning-land/fotad/updater"
)

// Error codes reported through Callbacks.Error.
const (
	ErrorCodeConnect  = 1
	ErrorCodeProtocol = 2
	ErrorCodeUpdate   = 3
)

const (
	defaultReconnectInterval    = time.Second
	defaultMaxReconnectInterval = time.Minute
	writeTimeout                = 10 * time.Second
)

var (
	ErrUnknownToken = errors.New("unknown authorization token")
	errNotConnected = errors.New("not connected")
)

// Updater fetches and installs firmware images.
type Updater interface {
	Download(ctx context.Context, url string, size uint32, progress updater.ProgressFunc) (*updater.Image, error)
	Apply(image *updater.Image) error
}

type Rebooter interface {
	Reboot() error
}

// UpdateRecorder persists the outcome of an update across the reboot.
type UpdateRecorder interface {
	SetUpdateRecord(record *keystore.UpdateRecord) error
}

type ClientConfig struct {
	URL     string
	Dialer  *websocket.Dialer
	Updater Updater
	Machine Rebooter
	// Records may be nil.
	Records              UpdateRecorder
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	Logger               Logger
}

// WebsocketClient connects to the management server over a websocket. It
// reconnects on its own, runs the firmware download and install once they
// are authorized, and invokes all callbacks from a single goroutine.
type WebsocketClient struct {
	url                  string
	dialer               *websocket.Dialer
	updater              Updater
	machine              Rebooter
	records              UpdateRecorder
	reconnectInterval    time.Duration
	maxReconnectInterval time.Duration
	log                  Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	wg     sync.WaitGroup

	writeMtx sync.Mutex

	mu        sync.Mutex
	callbacks *Callbacks
	endpoint  string
	resources []Resource
	started   bool
	conn      *websocket.Conn
	session   *updateSession
}

// updateSession is a single firmware update offered by the server.
type updateSession struct {
	url        string
	size       uint32
	pending    map[fota.Token]fota.RequestKind
	image      *updater.Image
	installing bool
}

var (
	_ Client       = (*WebsocketClient)(nil)
	_ fota.Replier = (*WebsocketClient)(nil)
)

func NewWebsocketClient(config *ClientConfig) *WebsocketClient {
	ctx, cancel := context.WithCancel(context.Background())

	c := &WebsocketClient{
		url:                  config.URL,
		dialer:               config.Dialer,
		updater:              config.Updater,
		machine:              config.Machine,
		records:              config.Records,
		reconnectInterval:    config.ReconnectInterval,
		maxReconnectInterval: config.MaxReconnectInterval,
		ctx:                  ctx,
		cancel:               cancel,
		events:               make(chan func(), 64),
	}

	if config.Logger != nil {
		c.log = config.Logger
	} else {
		c.log = noopLogger{}
	}

	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}

	if c.reconnectInterval <= 0 {
		c.reconnectInterval = defaultReconnectInterval
	}

	if c.maxReconnectInterval < c.reconnectInterval {
		c.maxReconnectInterval = defaultMaxReconnectInterval
	}

	return c
}

func (c *WebsocketClient) SetCallbacks(callbacks *Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = callbacks
}

// Register starts the connection loop. Every (re)connect announces the
// endpoint and its resources.
func (c *WebsocketClient) Register(endpoint string, resources []Resource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyRegistered
	}

	c.started = true
	c.endpoint = endpoint
	c.resources = resources

	c.wg.Add(2)
	go c.dispatch()
	go c.run()

	return nil
}

// Close stops the connection loop and waits for running work.
func (c *WebsocketClient) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.wg.Wait()

	return nil
}

// Notify pushes a resource value change to the server. It is an ObserverFunc.
func (c *WebsocketClient) Notify(path string, value string) {
	err := c.send(&frame{Type: frameNotify, Path: path, Value: value})
	if err != nil && !errors.Is(err, errNotConnected) {
		c.log.Debugf("Could not notify %v: %v", path, err)
	}
}

// Reply answers an authorization request issued by this client and carries
// the update on when the answer is positive.
func (c *WebsocketClient) Reply(token fota.Token, kind fota.RequestKind, decision fota.Decision) error {
	c.mu.Lock()

	s := c.session
	if s == nil {
		c.mu.Unlock()
		return errors.Errorf("token %v: %w", token, ErrUnknownToken)
	}

	if pendingKind, ok := s.pending[token]; !ok || pendingKind != kind {
		c.mu.Unlock()
		return errors.Errorf("token %v: %w", token, ErrUnknownToken)
	}

	delete(s.pending, token)

	if decision == fota.Denied {
		c.session = nil
		c.mu.Unlock()

		c.log.Warnf("Update %v was denied, aborting update", kind)
		c.removeImage(s)
		c.sendAuthorize(token, kind, decision)

		return nil
	}

	if kind == fota.InstallAuthorization {
		s.installing = true
	}

	c.mu.Unlock()

	c.sendAuthorize(token, kind, decision)

	switch kind {
	case fota.DownloadAuthorization:
		c.wg.Add(1)
		go c.download(s)
	case fota.InstallAuthorization:
		c.wg.Add(1)
		go c.install(s)
	}

	return nil
}

func (c *WebsocketClient) run() {
	defer c.wg.Done()

	for {
		conn, err := c.connect()
		if err != nil {
			c.log.Debugf("Connection loop stopped: %v", err)
			return
		}

		err = c.read(conn)

		c.mu.Lock()
		c.conn = nil
		installing := c.session != nil && c.session.installing
		c.mu.Unlock()

		_ = conn.Close()

		if c.ctx.Err() != nil || installing {
			return
		}

		c.log.Warnf("Connection to %v lost: %v", c.url, err)
		c.emitError(ErrorCodeConnect, "ConnectionLost", err.Error())
		c.emit(func(cb *Callbacks) {
			if cb.Unregistered != nil {
				cb.Unregistered()
			}
		})
	}
}

// connect dials until it succeeds and sends the registration. The service
// forgets an endpoint with its connection, so every new connection announces
// the endpoint and its resources again.
func (c *WebsocketClient) connect() (*websocket.Conn, error) {
	var conn *websocket.Conn

	operation := func() error {
		dialed, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			c.emitError(ErrorCodeConnect, "ConnectNetworkError", err.Error())
			return err
		}

		c.mu.Lock()
		c.conn = dialed
		register := &frame{Type: frameRegister, Endpoint: c.endpoint, Resources: c.resources}
		c.mu.Unlock()

		if err := c.send(register); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			_ = dialed.Close()
			return err
		}

		conn = dialed

		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warnf("Could not connect to %v: %v, retrying in %v", c.url, err, wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(c.reconnectBackOff(), c.ctx), notify)
	if err != nil {
		return nil, err
	}

	c.log.Infof("Connected to %v", c.url)

	return conn, nil
}

func (c *WebsocketClient) reconnectBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     c.reconnectInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         c.maxReconnectInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

func (c *WebsocketClient) read(conn *websocket.Conn) error {
	for {
		f := &frame{}
		if err := conn.ReadJSON(f); err != nil {
			return err
		}

		c.handle(f)
	}
}

func (c *WebsocketClient) handle(f *frame) {
	switch f.Type {
	case frameRegistered:
		c.emit(func(cb *Callbacks) {
			if cb.Registered != nil {
				cb.Registered()
			}
		})
	case frameUnregistered:
		c.emit(func(cb *Callbacks) {
			if cb.Unregistered != nil {
				cb.Unregistered()
			}
		})
	case frameError:
		c.emitError(f.Code, f.Name, f.Description)
	case frameUpdate:
		c.post(func() {
			c.offer(f.Url, f.Size)
		})
	default:
		c.emitError(ErrorCodeProtocol, "ProtocolError", "unexpected frame type "+f.Type)
	}
}

// offer runs on the dispatch goroutine.
func (c *WebsocketClient) offer(url string, size uint32) {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		c.log.Warnf("Ignoring update offer %v, an update is in progress", url)
		return
	}

	token := newToken()

	c.session = &updateSession{
		url:     url,
		size:    size,
		pending: map[fota.Token]fota.RequestKind{token: fota.DownloadAuthorization},
	}
	callbacks := c.callbacks
	c.mu.Unlock()

	c.log.Infof("Update offered: %v (%d bytes)", url, size)

	if callbacks != nil && callbacks.UpdateAuthorize != nil {
		callbacks.UpdateAuthorize(int32(fota.DownloadAuthorization), token)
	}
}

func (c *WebsocketClient) download(s *updateSession) {
	defer c.wg.Done()

	progress := func(transferred uint32, total uint32) {
		c.emit(func(cb *Callbacks) {
			if cb.UpdateProgress != nil {
				cb.UpdateProgress(transferred, total)
			}
		})
	}

	image, err := c.updater.Download(c.ctx, s.url, s.size, progress)
	if err != nil {
		c.abort(s)
		c.emitError(ErrorCodeUpdate, "UpdateDownloadError", err.Error())
		return
	}

	token := newToken()

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		_ = image.Remove()
		return
	}
	s.image = image
	s.pending[token] = fota.InstallAuthorization
	c.mu.Unlock()

	c.emit(func(cb *Callbacks) {
		if cb.UpdateAuthorize != nil {
			cb.UpdateAuthorize(int32(fota.InstallAuthorization), token)
		}
	})
}

func (c *WebsocketClient) install(s *updateSession) {
	defer c.wg.Done()

	c.record(s, "INSTALLING", nil)

	if err := c.updater.Apply(s.image); err != nil {
		c.record(s, "FAILED", err)
		c.abort(s)
		c.emitError(ErrorCodeUpdate, "UpdateInstallError", err.Error())
		return
	}

	c.record(s, "INSTALLED", nil)
	c.removeImage(s)

	if err := c.machine.Reboot(); err != nil {
		c.log.Errorf("Could not reboot: %v", err)
		c.emitError(ErrorCodeUpdate, "RebootError", err.Error())
	}
}

func (c *WebsocketClient) record(s *updateSession, state string, cause error) {
	if c.records == nil {
		return
	}

	record := &keystore.UpdateRecord{
		URL:       s.url,
		Size:      s.size,
		State:     state,
		UpdatedAt: time.Now(),
	}

	if cause != nil {
		record.Error = cause.Error()
	}

	if err := c.records.SetUpdateRecord(record); err != nil {
		c.log.Errorf("Could not record update state %v: %v", state, err)
	}
}

func (c *WebsocketClient) abort(s *updateSession) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	c.removeImage(s)
}

func (c *WebsocketClient) removeImage(s *updateSession) {
	if s.image == nil {
		return
	}

	if err := s.image.Remove(); err != nil {
		c.log.Warnf("Could not remove image %v: %v", s.image.Path, err)
	}
}

func (c *WebsocketClient) sendAuthorize(token fota.Token, kind fota.RequestKind, decision fota.Decision) {
	err := c.send(&frame{
		Type:     frameAuthorize,
		Token:    string(token),
		Kind:     kind.String(),
		Decision: decision.String(),
	})
	if err != nil {
		c.log.Debugf("Could not forward %v decision to server: %v", kind, err)
	}
}

func (c *WebsocketClient) send(f *frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	return conn.WriteJSON(f)
}

func (c *WebsocketClient) emitError(code int, name string, description string) {
	c.emit(func(cb *Callbacks) {
		if cb.Error != nil {
			cb.Error(code, name, description)
		}
	})
}

// emit queues a callback invocation for the dispatch goroutine.
func (c *WebsocketClient) emit(call func(cb *Callbacks)) {
	c.post(func() {
		c.mu.Lock()
		callbacks := c.callbacks
		c.mu.Unlock()

		if callbacks != nil {
			call(callbacks)
		}
	})
}

func (c *WebsocketClient) post(event func()) {
	select {
	case c.events <- event:
	case <-c.ctx.Done():
	}
}

func (c *WebsocketClient) dispatch() {
	defer c.wg.Done()

	for {
		select {
		case event := <-c.events:
			event()
		case <-c.ctx.Done():
			return
		}
	}
}

func newToken() fota.Token {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fota.Token(hex.EncodeToString(b))
}
