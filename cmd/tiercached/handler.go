package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/unkn0wn-root/tiercache"
)

const resultHeader = "X-Cache-Result"

type handler struct {
	cache    tiercache.Cache[document]
	maxBytes int64
}

func newHandler(c tiercache.Cache[document], maxBytes int64) *handler {
	return &handler{cache: c, maxBytes: maxBytes}
}

func (h *handler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/cache/{id}", h.get)
	mux.HandleFunc("PUT /v1/cache/{id}", h.put)
	mux.HandleFunc("DELETE /v1/cache/{id}", h.remove)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	v, res, err := h.cache.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set(resultHeader, res.String())
	switch res {
	case tiercache.Hit:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(v)
	case tiercache.Miss:
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "remote tier unavailable", http.StatusServiceUnavailable)
	}
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be a JSON document", http.StatusBadRequest)
		return
	}
	if err := h.cache.Set(r.Context(), r.PathValue("id"), document(body)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, tiercache.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
