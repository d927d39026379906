// Package api provides the HTTP server for a running mesh simulation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/bluemesh/mesh"
	"github.com/user/bluemesh/network"
	"github.com/user/bluemesh/pdu"
	"github.com/user/bluemesh/tracestore"
)

// Server is the simulation HTTP API server
type Server struct {
	net            *network.Network
	store          *tracestore.Store // nil when tracing is off
	metricsEnabled bool
}

// NewServer creates a server for net. store may be nil.
func NewServer(net *network.Network, store *tracestore.Store) *Server {
	return &Server{net: net, store: store}
}

// EnableMetrics enables the /metrics Prometheus endpoint
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/nodes", s.handleListNodes)
		r.Route("/nodes/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetNode)
			r.Get("/services", s.handleServices)
			r.Post("/broadcast", s.handleBroadcast)
		})
		r.Get("/messages", s.handleListMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// ─── Responses ──────────────────────────────────────────────────────────────

type nodeResponse struct {
	Name              string `json:"name"`
	Identifier        string `json:"identifier"`
	User              string `json:"user"`
	Started           bool   `json:"started"`
	InRange           int    `json:"in_range"`
	ActiveConnections int    `json:"active_connections"`
	Received          int    `json:"received"`
}

type peerResponse struct {
	ID            string   `json:"id"`
	State         string   `json:"state"`
	RSSI          *int     `json:"rssi,omitempty"`
	Services      []string `json:"services"`
	Queued        int      `json:"queued"`
	PendingWrites int      `json:"pending_writes"`
}

type nodeDetailResponse struct {
	nodeResponse
	Peers []peerResponse `json:"peers"`
}

type serviceResponse struct {
	Identifier string `json:"identifier"`
	User       string `json:"user,omitempty"`
	Peer       string `json:"peer"`
	RSSI       int    `json:"rssi"`
}

type messageResponse struct {
	ID         string   `json:"id"`
	Origin     string   `json:"origin"`
	Text       string   `json:"text"`
	TimeToLive int32    `json:"ttl"`
	SentAt     string   `json:"sent_at"`
	Reached    []string `json:"reached"`
	Duplicates int      `json:"duplicates"`
	LatencyMS  int64    `json:"latency_ms"`
}

func describeNode(node *network.Node) nodeResponse {
	engine := node.Engine()
	return nodeResponse{
		Name:              node.Name(),
		Identifier:        engine.Configuration().Identifier.String(),
		User:              node.User().DisplayName(),
		Started:           engine.IsStarted(),
		InRange:           engine.InRangeCount(),
		ActiveConnections: engine.ActiveConnections(),
		Received:          len(node.Received()),
	}
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.net.Nodes()
	out := make([]nodeResponse, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, describeNode(node))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) node(w http.ResponseWriter, r *http.Request) (*network.Node, bool) {
	name := chi.URLParam(r, "name")
	node, ok := s.net.Node(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown node "+name)
	}
	return node, ok
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, ok := s.node(w, r)
	if !ok {
		return
	}

	resp := nodeDetailResponse{nodeResponse: describeNode(node), Peers: []peerResponse{}}
	for _, p := range node.Engine().Peers() {
		pr := peerResponse{
			ID:            string(p.ID),
			State:         p.State.String(),
			RSSI:          p.RSSI,
			Services:      []string{},
			Queued:        p.Queued,
			PendingWrites: p.PendingWrites,
		}
		for _, svc := range p.Services {
			pr.Services = append(pr.Services, svc.Identifier().String())
		}
		resp.Peers = append(resp.Peers, pr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	node, ok := s.node(w, r)
	if !ok {
		return
	}

	services := node.Engine().ServicesInRange()
	out := make([]serviceResponse, 0, len(services))
	for _, svc := range services {
		sr := serviceResponse{
			Identifier: svc.Identifier.String(),
			Peer:       string(svc.Peer),
			RSSI:       svc.RSSI,
		}
		if u, err := pdu.UnmarshalUserInfo(svc.UserInfo); err == nil {
			sr.User = u.DisplayName()
		}
		out = append(out, sr)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	node, ok := s.node(w, r)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	msg, err := node.Broadcast(req.Text)
	switch {
	case errors.Is(err, mesh.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, mesh.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message_id": msg.Identifier.String(),
		"ttl":        node.Engine().DefaultTimeToLive(),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "tracing is disabled")
		return
	}
	sends, err := s.store.Messages()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]messageResponse, 0, len(sends))
	for _, send := range sends {
		c, err := s.store.Coverage(send.MessageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, describeCoverage(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "tracing is disabled")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	c, err := s.store.Coverage(id)
	if errors.Is(err, tracestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown message")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, describeCoverage(c))
}

func describeCoverage(c tracestore.Coverage) messageResponse {
	reached := c.Nodes
	if reached == nil {
		reached = []string{}
	}
	return messageResponse{
		ID:         c.MessageID.String(),
		Origin:     c.Origin,
		Text:       c.Text,
		TimeToLive: c.TimeToLive,
		SentAt:     c.SentAt.UTC().Format(time.RFC3339Nano),
		Reached:    reached,
		Duplicates: c.Duplicates,
		LatencyMS:  c.Latency.Milliseconds(),
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
