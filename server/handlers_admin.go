package server

import (
	"net/http"
	"sort"

	"github.com/onnwee/guildbot/relay"
)

// HandleAdminGuilds lists stored guild records: GET /admin/guilds?limit=N.
func (h *Handlers) HandleAdminGuilds(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	if h.d.Guilds == nil {
		http.Error(w, "guild store not configured", http.StatusServiceUnavailable)
		return
	}
	guilds, err := h.d.Guilds.ListGuilds(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if limit := parseIntQuery(r, "limit", 0); limit > 0 && limit < len(guilds) {
		guilds = guilds[:limit]
	}
	type guildView struct {
		ID               string              `json:"id"`
		Prefix           string              `json:"prefix"`
		Tags             int                 `json:"tags"`
		Warns            map[string][]string `json:"warns"`
		DisabledChannels []string            `json:"disabled_channels"`
	}
	out := make([]guildView, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, guildView{ID: g.ID, Prefix: g.Prefix, Tags: len(g.Tags), Warns: g.Warns, DisabledChannels: g.DisabledChannels})
	}
	writeJSON(w, http.StatusOK, map[string]any{"guilds": out, "count": len(out)})
}

// HandleAdminMonitor returns command counters and relay state.
func (h *Handlers) HandleAdminMonitor(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	stats := map[string]any{"relay_active": relay.Active()}
	if h.d.Counts != nil {
		counts, _, err := h.d.Counts.LoadCounts(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type entry struct {
			Command string `json:"command"`
			Count   int64  `json:"count"`
		}
		top := make([]entry, 0, len(counts))
		for name, n := range counts {
			top = append(top, entry{name, n})
		}
		sort.Slice(top, func(i, j int) bool {
			if top[i].Count != top[j].Count {
				return top[i].Count > top[j].Count
			}
			return top[i].Command < top[j].Command
		})
		stats["commands"] = top
	}
	writeJSON(w, http.StatusOK, stats)
}
