package api

import (
	"net/http"

	"github.com/the-lightning-land/fotad/display"
)

type getStatusResponse struct {
	Update  updateStatus     `json:"update"`
	Network networkStatus    `json:"network"`
	Cloud   cloudStatus      `json:"cloud"`
	Panel   display.Snapshot `json:"panel"`
}

type updateStatus struct {
	State   string `json:"state"`
	Percent uint8  `json:"percent"`
}

type networkStatus struct {
	Kind  string `json:"kind"`
	State string `json:"state"`
}

type cloudStatus struct {
	Status    string `json:"status"`
	LastError string `json:"lastError,omitempty"`
}

func (a *Api) handleGetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := &getStatusResponse{
			Update: updateStatus{
				State:   a.updates.State().String(),
				Percent: a.updates.Percent(),
			},
			Network: networkStatus{
				Kind:  string(a.network.Kind()),
				State: a.network.State().String(),
			},
			Cloud: cloudStatus{
				Status:    a.cloud.Status().String(),
				LastError: a.cloud.LastError(),
			},
			Panel: a.panel.Snapshot(),
		}

		a.jsonResponse(w, res, http.StatusOK)
	}
}
