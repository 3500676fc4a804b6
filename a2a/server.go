package a2a

import (
	"encoding/json"
	"net/http"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
)

// HandlerOptions configure a Handler.
type HandlerOptions struct {
	Version string
	// PublicURL, when set, is advertised as the invoke endpoint base.
	PublicURL string
	Logger    logging.Logger
}

// Handler serves one core.Agent over the invoke protocol.
type Handler struct {
	agent  core.Agent
	card   Card
	mux    *http.ServeMux
	logger logging.Logger
}

// NewHandler exposes agent at CardPath and InvokePath.
func NewHandler(agent core.Agent, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{Version: "dev"}
	for _, fn := range optFns {
		fn(&opts)
	}

	card := Card{
		Name:         agent.Name(),
		Description:  agent.Description(),
		Version:      opts.Version,
		Capabilities: Capabilities{Streaming: true},
	}
	if opts.PublicURL != "" {
		card.URL = card.InvokeURL(opts.PublicURL)
	}

	h := &Handler{agent: agent, card: card, mux: http.NewServeMux(), logger: logging.Ensure(opts.Logger)}
	h.mux.HandleFunc("GET "+CardPath, h.handleCard)
	h.mux.HandleFunc("POST "+InvokePath, h.handleInvoke)

	return h
}

// Card returns the advertised descriptor.
func (h *Handler) Card() Card { return h.card }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.card)
}

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorFrame{Error: "invalid json"})
		return
	}

	ctx := r.Context()
	if req.RunID != "" {
		ctx = core.WithRunID(ctx, req.RunID)
	}

	h.logger.Info("a2a.invoke.start", "stage", h.agent.Name(), "run_id", req.RunID, "messages", req.Conversation.Len())

	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	events, errs := h.agent.Invoke(ctx, req.Conversation)

	count := 0
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			h.logger.Warn("a2a.invoke.write_failed", "stage", h.agent.Name(), "error", err.Error())
			continue
		}
		count++
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := <-errs; err != nil {
		h.logger.Error("a2a.invoke.failed", "stage", h.agent.Name(), "run_id", req.RunID, "events", count, "error", err.Error())
		_ = enc.Encode(errorFrame{Error: err.Error()})
		return
	}

	h.logger.Info("a2a.invoke.complete", "stage", h.agent.Name(), "run_id", req.RunID, "events", count)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
