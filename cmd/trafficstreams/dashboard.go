package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/c360/trafficstreams/aggregate"
	"github.com/c360/trafficstreams/feed"
	"github.com/c360/trafficstreams/natsclient"
	"github.com/c360/trafficstreams/relay"
	"github.com/c360/trafficstreams/stream"
	"github.com/c360/trafficstreams/subscription"
)

// viewState is one subscription as served by /api/dashboard.
type viewState struct {
	Name      string            `json:"name"`
	Path      string            `json:"path"`
	Aggregate string            `json:"aggregate,omitempty"`
	Relayed   bool              `json:"relayed"`
	State     subscription.View `json:"state"`
	Entries   []aggregate.Entry `json:"entries,omitempty"`
}

type dashboardState struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Views       []viewState             `json:"views"`
	Totals      []aggregate.Total       `json:"totals"`
	Connections []stream.ConnectionInfo `json:"connections"`
	Relay       *relay.Stats            `json:"relay,omitempty"`
	Feed        *feed.Stats             `json:"feed,omitempty"`
	NATS        *natsclient.Status      `json:"nats,omitempty"`
}

func (d *daemon) dashboard() dashboardState {
	out := dashboardState{
		GeneratedAt: time.Now().UTC(),
		Views:       make([]viewState, 0, len(d.views)),
		Totals:      d.totals.Snapshot(),
		Connections: d.manager.Connections(),
	}
	for _, v := range d.views {
		vs := viewState{
			Name:      v.name,
			Path:      v.path,
			Aggregate: v.aggregate,
			Relayed:   v.relayed,
			State:     v.sub.State(),
		}
		if v.agg != nil {
			vs.Entries = v.agg.Window().Entries()
		}
		out.Views = append(out.Views, vs)
	}
	if d.relay != nil {
		stats := d.relay.Stats()
		out.Relay = &stats
	}
	if d.hub != nil {
		stats := d.hub.Stats()
		out.Feed = &stats
	}
	if d.nats != nil {
		out.NATS = d.nats.GetStatus()
	}
	return out
}

func (d *daemon) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.dashboard())
}

func (d *daemon) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.safeCfg.Get().Redacted())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
