package api

import (
	"net/http"
	"strings"

	"github.com/go-errors/errors"
	"github.com/gorilla/mux"
	"github.com/the-lightning-land/fotad/cloud"
)

func (a *Api) handleGetResources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.jsonResponse(w, a.resources.List(), http.StatusOK)
	}
}

func (a *Api) handleGetResource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		path := strings.Join([]string{vars["object"], vars["instance"], vars["resource"]}, "/")

		resource, err := a.resources.Get(path)
		if errors.Is(err, cloud.ErrUnknownResource) {
			a.jsonError(w, "No resource "+path+" found", http.StatusNotFound)
			return
		}
		if err != nil {
			a.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		a.jsonResponse(w, resource, http.StatusOK)
	}
}
