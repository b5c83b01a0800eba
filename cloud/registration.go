package cloud

import (
	"sync"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/fotad/fota"
)

var ErrAlreadyRegistered = errors.New("registration was already requested")

// Callbacks are invoked by a Client. The client serializes the calls.
type Callbacks struct {
	Registered      func()
	Unregistered    func()
	Error           func(code int, name string, description string)
	UpdateAuthorize func(kind int32, token fota.Token)
	UpdateProgress  func(transferred uint32, total uint32)
}

// Client is the update management service connection.
type Client interface {
	SetCallbacks(callbacks *Callbacks)
	// Register announces the endpoint with its resources. It returns once
	// the request is issued; the outcome arrives through the callbacks.
	Register(endpoint string, resources []Resource) error
	Close() error
}

// Controller consumes the update events.
type Controller interface {
	HandleAuthorize(kind fota.RequestKind, token fota.Token) error
	HandleProgress(sample fota.Progress)
}

type Display interface {
	SetCloudStatus(status string)
	SetCloudError(code int, name string, description string)
}

// Display status values.
const (
	StatusInProgress   = "in progress"
	StatusRegistered   = "registered"
	StatusUnregistered = "unregistered"
	StatusError        = "error"
)

type Status int

const (
	NotRegistered Status = iota
	Registering
	Registered
	Unregistered
	Errored
)

func (s Status) String() string {
	switch s {
	case NotRegistered:
		return "NOT REGISTERED"
	case Registering:
		return "REGISTERING"
	case Registered:
		return "REGISTERED"
	case Unregistered:
		return "UNREGISTERED"
	case Errored:
		return "ERROR"
	default:
		return "INVALID STATUS"
	}
}

type RegistrationConfig struct {
	Client     Client
	Controller Controller
	Resources  *Resources
	Display    Display
	Endpoint   string
	Logger     Logger
}

// Registration hooks the controller up to the update management service and
// tracks the registration status.
type Registration struct {
	client     Client
	controller Controller
	resources  *Resources
	display    Display
	endpoint   string
	log        Logger

	mu        sync.RWMutex
	status    Status
	requested bool
	lastError string
}

func NewRegistration(config *RegistrationConfig) *Registration {
	r := &Registration{
		client:     config.Client,
		controller: config.Controller,
		resources:  config.Resources,
		display:    config.Display,
		endpoint:   config.Endpoint,
		status:     NotRegistered,
	}

	if config.Logger != nil {
		r.log = config.Logger
	} else {
		r.log = noopLogger{}
	}

	return r
}

// Register installs the callbacks and issues the single registration request
// of the process lifetime.
func (r *Registration) Register() error {
	r.mu.Lock()
	if r.requested {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}
	r.requested = true
	r.status = Registering
	r.mu.Unlock()

	r.client.SetCallbacks(&Callbacks{
		Registered:      r.onRegistered,
		Unregistered:    r.onUnregistered,
		Error:           r.onError,
		UpdateAuthorize: r.onUpdateAuthorize,
		UpdateProgress:  r.onUpdateProgress,
	})

	r.resources.Seal()
	resources := r.resources.List()

	r.display.SetCloudStatus(StatusInProgress)
	r.log.Infof("Registering endpoint %v with %d resources", r.endpoint, len(resources))

	if err := r.client.Register(r.endpoint, resources); err != nil {
		r.setStatus(Errored)
		r.display.SetCloudStatus(StatusError)
		return errors.Errorf("could not request registration: %v", err)
	}

	return nil
}

func (r *Registration) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// LastError describes the most recent error reported by the service.
func (r *Registration) LastError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastError
}

func (r *Registration) setStatus(status Status) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func (r *Registration) onRegistered() {
	r.log.Infof("Registered")
	r.setStatus(Registered)
	r.display.SetCloudStatus(StatusRegistered)
}

func (r *Registration) onUnregistered() {
	r.log.Infof("Unregistered")
	r.setStatus(Unregistered)
	r.display.SetCloudStatus(StatusUnregistered)
}

// onError never terminates the process; the client recovers on its own.
func (r *Registration) onError(code int, name string, description string) {
	r.log.Errorf("Cloud client error (%d) %v: %v", code, name, description)

	r.mu.Lock()
	r.status = Errored
	r.lastError = name + ": " + description
	r.mu.Unlock()

	r.display.SetCloudError(code, name, description)
}

func (r *Registration) onUpdateAuthorize(kind int32, token fota.Token) {
	err := r.controller.HandleAuthorize(fota.RequestKind(kind), token)
	if err != nil {
		r.log.Errorf("Authorization request %v: %v", fota.RequestKind(kind), err)
	}
}

func (r *Registration) onUpdateProgress(transferred uint32, total uint32) {
	r.controller.HandleProgress(fota.Progress{
		Transferred: transferred,
		Total:       total,
	})
}
