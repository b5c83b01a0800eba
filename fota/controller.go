package fota

import (
	"context"
	"sync"
	"time"

	"github.com/go-errors/errors"
)

const defaultStopTimeout = 10 * time.Second

// Sensors stops all periodic sampling before a download is authorized.
type Sensors interface {
	StopAll(ctx context.Context) error
}

// Network tears down connectivity before an install is authorized.
type Network interface {
	Disconnect() error
}

// Replier delivers the decision for a token back to the update service.
type Replier interface {
	Reply(token Token, kind RequestKind, decision Decision) error
}

// Display shows the update status on the device.
type Display interface {
	SetDownloading()
	SetProgress(percent uint8)
	SetDownloadComplete()
	SetInstalling()
	SetUpdateFailed()
}

type Config struct {
	Sensors     Sensors
	Network     Network
	Replier     Replier
	Display     Display
	Logger      Logger
	StopTimeout time.Duration
}

type nextClient struct {
	sync.Mutex
	id uint32
}

// Controller orchestrates the firmware update lifecycle. It reacts to
// authorization requests and progress notifications and makes sure the
// sensors are stopped before a download and the network is down before an
// install is authorized.
type Controller struct {
	sensors     Sensors
	network     Network
	replier     Replier
	display     Display
	log         Logger
	stopTimeout time.Duration

	// handleMtx serializes HandleAuthorize and HandleProgress.
	handleMtx sync.Mutex

	stateMtx    sync.RWMutex
	state       State
	percent     uint8
	lastPercent int
	last        Progress
	receiving   bool

	replied map[Token]Decision

	clientsMtx sync.Mutex
	clients    map[uint32]*Client
	nextClient nextClient
}

func NewController(config *Config) *Controller {
	c := &Controller{
		sensors:     config.Sensors,
		network:     config.Network,
		replier:     config.Replier,
		display:     config.Display,
		stopTimeout: config.StopTimeout,
		state:       Idle,
		lastPercent: -1,
		replied:     make(map[Token]Decision),
		clients:     make(map[uint32]*Client),
	}

	if config.Logger != nil {
		c.log = config.Logger
	} else {
		c.log = noopLogger{}
	}

	if c.stopTimeout <= 0 {
		c.stopTimeout = defaultStopTimeout
	}

	return c
}

// State returns the current update state.
func (c *Controller) State() State {
	c.stateMtx.RLock()
	defer c.stateMtx.RUnlock()

	return c.state
}

// Percent returns the last reported download percentage.
func (c *Controller) Percent() uint8 {
	c.stateMtx.RLock()
	defer c.stateMtx.RUnlock()

	return c.percent
}

// HandleAuthorize performs the precondition required by kind and replies on
// token exactly once. Unknown kinds are never replied to and move the
// controller into Failed.
func (c *Controller) HandleAuthorize(kind RequestKind, token Token) error {
	c.handleMtx.Lock()
	defer c.handleMtx.Unlock()

	c.log.Infof("Received %v authorization request (token %v)", kind, token)

	if _, ok := c.replied[token]; ok {
		c.log.Errorf("Rejecting %v request, token %v was already answered", kind, token)
		return errors.Errorf("token %v: %w", token, ErrDuplicateReply)
	}

	if !kind.Known() {
		c.log.Errorf("Unknown authorization request %v, update session failed", kind)
		c.fail()
		return errors.Errorf("request kind %d: %w", int32(kind), ErrUnknownRequest)
	}

	r := &reply{controller: c, token: token, kind: kind}

	var err error

	switch kind {
	case DownloadAuthorization:
		err = c.authorizeDownload(r)
	case InstallAuthorization:
		err = c.authorizeInstall(r)
	}

	if r.count == 0 {
		c.log.Errorf("No reply was issued for token %v", token)
		return errors.Errorf("token %v: %w", token, ErrMissingReply)
	}

	return err
}

func (c *Controller) authorizeDownload(r *reply) error {
	current := c.State()
	if !current.canAdvance(DownloadAuthorized) {
		c.log.Warnf("Cannot authorize download in state %v", current)
		if err := r.send(Denied); err != nil {
			return err
		}
		return errors.Errorf("download in state %v: %w", current, ErrInvalidTransition)
	}

	c.log.Infof("Stopping all sensors before authorizing download")

	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer cancel()

	if err := c.sensors.StopAll(ctx); err != nil {
		c.log.Errorf("Could not stop sensors: %v", err)
		c.fail()
		if replyErr := r.send(Denied); replyErr != nil {
			return replyErr
		}
		return errors.Errorf("stopping sensors: %w: %w", err, ErrPreconditionTimeout)
	}

	c.transition(DownloadAuthorized)
	c.display.SetDownloading()

	return r.send(Authorized)
}

func (c *Controller) authorizeInstall(r *reply) error {
	current := c.State()
	if !current.canAdvance(InstallAuthorized) {
		c.log.Warnf("Cannot authorize install in state %v", current)
		if err := r.send(Denied); err != nil {
			return err
		}
		return errors.Errorf("install in state %v: %w", current, ErrInvalidTransition)
	}

	c.log.Infof("Disconnecting network before authorizing install")

	if err := c.network.Disconnect(); err != nil {
		c.log.Errorf("Could not disconnect network: %v", err)
		c.fail()
		if replyErr := r.send(Denied); replyErr != nil {
			return replyErr
		}
		return errors.Errorf("disconnecting network: %w: %w", err, ErrPreconditionTimeout)
	}

	c.transition(InstallAuthorized)
	c.display.SetInstalling()

	if err := r.send(Authorized); err != nil {
		return err
	}

	c.transition(Installing)

	return nil
}

// HandleProgress records a download progress sample. The display is updated
// at most once per whole percent and the completion is signalled exactly once.
func (c *Controller) HandleProgress(sample Progress) {
	c.handleMtx.Lock()
	defer c.handleMtx.Unlock()

	current := c.State()

	if current != DownloadAuthorized && current != Downloading {
		c.log.Debugf("Ignoring progress %v/%v in state %v", sample.Transferred, sample.Total, current)
		return
	}

	if sample.Total == 0 {
		c.log.Debugf("Ignoring progress without total size")
		return
	}

	if sample.Transferred > sample.Total {
		c.log.Warnf("Ignoring progress %v beyond total %v", sample.Transferred, sample.Total)
		return
	}

	if c.receiving && sample.Total == c.last.Total && sample.Transferred < c.last.Transferred {
		c.log.Warnf("Ignoring progress going backwards from %v to %v", c.last.Transferred, sample.Transferred)
		return
	}

	if current != Downloading {
		c.transition(Downloading)
	}

	c.receiving = true
	c.last = sample

	if sample.Complete() {
		c.setPercent(100)
		c.log.Infof("Download completed")
		c.transition(DownloadComplete)
		c.display.SetDownloadComplete()
		return
	}

	percent := sample.Percent()
	if int(percent) > c.lastPercent {
		c.lastPercent = int(percent)
		c.setPercent(percent)
		c.log.Infof("Downloading: %v%%", percent)
		c.display.SetProgress(percent)
	}
}

func (c *Controller) setPercent(percent uint8) {
	c.stateMtx.Lock()
	c.percent = percent
	event := &Event{State: c.state, Percent: percent}
	c.stateMtx.Unlock()

	c.notify(event)
}

func (c *Controller) transition(next State) {
	c.stateMtx.Lock()
	previous := c.state
	if !previous.canAdvance(next) {
		c.stateMtx.Unlock()
		c.log.Warnf("Refusing transition %v -> %v", previous, next)
		return
	}
	c.state = next
	event := &Event{State: next, Percent: c.percent}
	c.stateMtx.Unlock()

	c.log.Infof("Update state %v -> %v", previous, next)

	c.notify(event)
}

func (c *Controller) fail() {
	if c.State() != Failed {
		c.transition(Failed)
	}
	c.display.SetUpdateFailed()
}

// reply guards a single token against being answered more than once.
type reply struct {
	controller *Controller
	token      Token
	kind       RequestKind
	count      int
}

func (r *reply) send(decision Decision) error {
	if r.count > 0 {
		return errors.Errorf("token %v: %w", r.token, ErrDuplicateReply)
	}
	r.count++

	r.controller.replied[r.token] = decision
	r.controller.log.Infof("Replying %v on %v request (token %v)", decision, r.kind, r.token)

	if err := r.controller.replier.Reply(r.token, r.kind, decision); err != nil {
		return errors.Errorf("could not reply on token %v: %w", r.token, err)
	}

	return nil
}
