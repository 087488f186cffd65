package admin

import (
	"net/http"
)

type actionInfo struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	PermCode  string   `json:"perm_code,omitempty"`
	Listeners []string `json:"listeners"`
}

// handleActions lists every routed action with its listeners in call order
func (h *Handlers) handleActions(w http.ResponseWriter, r *http.Request) {
	obs := h.controller.Observer()
	routes := h.controller.Routes()
	actions := make([]actionInfo, 0, len(routes))
	for _, url := range routes {
		a, _ := h.controller.Lookup(url)
		name, _ := obs.NameOf(a)
		actions = append(actions, actionInfo{
			Name:      name,
			URL:       url,
			PermCode:  a.PermCode(),
			Listeners: obs.Listeners(name),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"data": actions})
}

// handleStats returns how often each action was invoked
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{"data": h.controller.Observer().Stats()})
}
