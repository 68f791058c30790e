package handlers

import (
	"net/http"

	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/proxy"
)

// PluginLister lists registered plugins. *hooks.Registry implements it.
type PluginLister interface {
	List() []hooks.Metadata
}

// PluginsHandler serves GET /v1/plugins.
type PluginsHandler struct {
	plugins PluginLister
}

// NewPluginsHandler creates a plugins listing handler.
func NewPluginsHandler(plugins PluginLister) *PluginsHandler {
	return &PluginsHandler{plugins: plugins}
}

type pluginList struct {
	Object string           `json:"object"`
	Data   []hooks.Metadata `json:"data"`
}

// ServeHTTP implements http.Handler.
func (h *PluginsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list := pluginList{Object: "list", Data: []hooks.Metadata{}}
	if h.plugins != nil {
		if plugins := h.plugins.List(); plugins != nil {
			list.Data = plugins
		}
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, list)
}
