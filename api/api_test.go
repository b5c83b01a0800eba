package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/the-lightning-land/fotad/cloud"
	"github.com/the-lightning-land/fotad/display"
	"github.com/the-lightning-land/fotad/fota"
	"github.com/the-lightning-land/fotad/network"
)

type nopSensors struct{}

func (nopSensors) StopAll(ctx context.Context) error { return nil }

type nopNetwork struct{}

func (nopNetwork) Disconnect() error { return nil }

type nopReplier struct{}

func (nopReplier) Reply(token fota.Token, kind fota.RequestKind, decision fota.Decision) error {
	return nil
}

type fixedCloud struct{}

func (fixedCloud) Status() cloud.Status { return cloud.Registered }
func (fixedCloud) LastError() string    { return "" }

type testNode struct {
	controller *fota.Controller
	panel      *display.Panel
	resources  *cloud.Resources
	server     *httptest.Server
}

func newTestNode(t *testing.T) *testNode {
	panel := display.NewPanel(&display.Config{Version: "1.0.0"})

	controller := fota.NewController(&fota.Config{
		Sensors: nopSensors{},
		Network: nopNetwork{},
		Replier: nopReplier{},
		Display: panel,
	})

	session := network.NewSession(&network.Config{
		Transport: &network.MockTransport{},
		Display:   panel,
	})
	require.NoError(t, session.Connect(context.Background()))

	resources := cloud.NewResources()
	require.NoError(t, resources.Add(cloud.Resource{
		Path:       "3303/0/1",
		Name:       "temperature_resource",
		Type:       cloud.TypeFloat,
		Observable: true,
		Operation:  cloud.OperationGet,
	}))
	require.NoError(t, resources.SetValue("3303/0/1", "21.5"))

	api := New(&Config{
		Updates:   controller,
		Network:   session,
		Cloud:     fixedCloud{},
		Panel:     panel,
		Resources: resources,
	})

	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &testNode{
		controller: controller,
		panel:      panel,
		resources:  resources,
		server:     server,
	}
}

func TestGetStatus(t *testing.T) {
	node := newTestNode(t)

	require.NoError(t, node.controller.HandleAuthorize(fota.DownloadAuthorization, "t1"))
	node.controller.HandleProgress(fota.Progress{Transferred: 25, Total: 100})

	res, err := http.Get(node.server.URL + "/api/v1/status")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	status := getStatusResponse{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))

	assert.Equal(t, "DOWNLOADING", status.Update.State)
	assert.Equal(t, uint8(25), status.Update.Percent)
	assert.Equal(t, "mock", status.Network.Kind)
	assert.Equal(t, "CONNECTED", status.Network.State)
	assert.Equal(t, "REGISTERED", status.Cloud.Status)
	assert.Equal(t, "1.0.0", status.Panel.Version)
	assert.Equal(t, uint8(25), status.Panel.Progress)
}

func TestGetResources(t *testing.T) {
	node := newTestNode(t)

	res, err := http.Get(node.server.URL + "/api/v1/resources")
	require.NoError(t, err)
	defer res.Body.Close()

	var resources []cloud.Resource
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resources))

	require.Len(t, resources, 1)
	assert.Equal(t, "temperature_resource", resources[0].Name)
	assert.Equal(t, "21.5", resources[0].Value)
}

func TestGetResource(t *testing.T) {
	node := newTestNode(t)

	res, err := http.Get(node.server.URL + "/api/v1/resources/3303/0/1")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)

	resource := cloud.Resource{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resource))
	assert.Equal(t, "3303/0/1", resource.Path)
	assert.Equal(t, "21.5", resource.Value)

	missing, err := http.Get(node.server.URL + "/api/v1/resources/3301/0/1")
	require.NoError(t, err)
	defer missing.Body.Close()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	e := errorResponse{}
	require.NoError(t, json.NewDecoder(missing.Body).Decode(&e))
	assert.Contains(t, e.Error, "3301/0/1")
}

func TestUpdateEventsStream(t *testing.T) {
	node := newTestNode(t)

	url := "ws" + strings.TrimPrefix(node.server.URL, "http") + "/api/v1/updates/events"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() *getUpdateEventsEvent {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		event := &getUpdateEventsEvent{}
		require.NoError(t, conn.ReadJSON(event))
		return event
	}

	assert.Equal(t, &getUpdateEventsEvent{State: "IDLE", Percent: 0}, read())

	require.NoError(t, node.controller.HandleAuthorize(fota.DownloadAuthorization, "t1"))
	node.controller.HandleProgress(fota.Progress{Transferred: 50, Total: 100})
	node.controller.HandleProgress(fota.Progress{Transferred: 100, Total: 100})

	assert.Equal(t, &getUpdateEventsEvent{State: "DOWNLOAD AUTHORIZED", Percent: 0}, read())
	assert.Equal(t, &getUpdateEventsEvent{State: "DOWNLOADING", Percent: 0}, read())
	assert.Equal(t, &getUpdateEventsEvent{State: "DOWNLOADING", Percent: 50}, read())
	assert.Equal(t, &getUpdateEventsEvent{State: "DOWNLOADING", Percent: 100}, read())
	assert.Equal(t, &getUpdateEventsEvent{State: "DOWNLOAD COMPLETE", Percent: 100}, read())
}

func TestUnknownRoute(t *testing.T) {
	node := newTestNode(t)

	res, err := http.Get(node.server.URL + "/api/v1/sensors")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
