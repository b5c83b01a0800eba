// Package api serves the local status API of the node.
package api

import (
	"net"
	"net/http"

	"github.com/go-errors/errors"
	"github.com/gorilla/mux"
	"github.com/the-lightning-land/fotad/cloud"
	"github.com/the-lightning-land/fotad/display"
	"github.com/the-lightning-land/fotad/fota"
	"github.com/the-lightning-land/fotad/network"
)

// Updates is the update lifecycle as seen by the API.
type Updates interface {
	State() fota.State
	Percent() uint8
	Subscribe() *fota.Client
}

type Network interface {
	Kind() network.Kind
	State() network.ConnectionState
}

type Cloud interface {
	Status() cloud.Status
	LastError() string
}

type Panel interface {
	Snapshot() display.Snapshot
}

type Resources interface {
	List() []cloud.Resource
	Get(path string) (cloud.Resource, error)
}

type Config struct {
	Updates   Updates
	Network   Network
	Cloud     Cloud
	Panel     Panel
	Resources Resources
	Log       Logger
}

type Api struct {
	updates   Updates
	network   Network
	cloud     Cloud
	panel     Panel
	resources Resources
	router    *mux.Router
	log       Logger
}

func New(config *Config) *Api {
	api := &Api{
		updates:   config.Updates,
		network:   config.Network,
		cloud:     config.Cloud,
		panel:     config.Panel,
		resources: config.Resources,
		router:    mux.NewRouter(),
	}

	if config.Log != nil {
		api.log = config.Log
	} else {
		api.log = noopLogger{}
	}

	api.router.Handle("/api/v1/status", api.handleGetStatus()).Methods(http.MethodGet)

	api.router.Handle("/api/v1/resources", api.handleGetResources()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/resources/{object}/{instance}/{resource}", api.handleGetResource()).Methods(http.MethodGet)

	api.router.Handle("/api/v1/updates/events", api.handleGetUpdateEvents()).Methods(http.MethodGet)

	return api
}

func (a *Api) Handler() http.Handler {
	return a.router
}

func (a *Api) Serve(l net.Listener) error {
	err := http.Serve(l, a.router)
	if err != nil {
		return errors.Errorf("Unable to serve api: %v", err)
	}

	return nil
}
