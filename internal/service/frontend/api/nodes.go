package api

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/refluxhq/reflux/internal/bus"
)

// nodeCatalogEntry joins the live registry view of a node type with its
// documented port contract, when the catalog has one.
type nodeCatalogEntry struct {
	bus.AddressInfo
	Contract *bus.PortContract `json:"contract,omitempty"`
}

func (a *API) handleListNodes(w http.ResponseWriter, r *http.Request) {
	addrs, err := a.dispatcher.Addresses(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries := lo.Map(addrs, func(info bus.AddressInfo, _ int) nodeCatalogEntry {
		entry := nodeCatalogEntry{AddressInfo: info}
		if contract, ok := bus.Contract(info.Name); ok {
			entry.Contract = &contract
		}
		return entry
	})
	writeJSON(w, http.StatusOK, entries)
}
