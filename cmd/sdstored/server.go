package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
	"github.com/TRENT-OS/rpi-spi-sd/storage"
)

// Error kinds reported in JSON error bodies.
const (
	kindBadRequest       = "bad-request"
	kindInvalidState     = "invalid-state"
	kindInvalidParameter = "invalid-parameter"
	kindOutOfBounds      = "out-of-bounds"
	kindIO               = "io"
)

// errorBody is the JSON shape of every failed request. Completed carries
// the bytes transferred before the failure, so a client can resume a
// partially applied write.
type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Completed int64  `json:"completed"`
}

// completedBody acknowledges a write or erase with the byte count applied.
type completedBody struct {
	Completed int64 `json:"completed"`
}

// server exposes a storage device over HTTP. The mutex serializes device
// access: the card sits on a single SPI bus and the device reuses one
// scratch sector across calls.
type server struct {
	mu  sync.Mutex
	dev *storage.Device
}

func newServer(dev *storage.Device) *server {
	return &server{dev: dev}
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/storage", s.handleStorage)
	mux.HandleFunc("/v1/size", s.handleSize)
	mux.HandleFunc("/v1/state", s.handleState)
	return mux
}

func (s *server) handleStorage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleRead(w, r)
	case http.MethodPut:
		s.handleWrite(w, r)
	case http.MethodDelete:
		s.handleErase(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, kindBadRequest, fmt.Errorf("method %s not allowed", r.Method), 0)
	}
}

func (s *server) handleRead(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt64(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err, 0)
		return
	}
	length, err := queryInt64(r, "length")
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err, 0)
		return
	}

	// The buffer is allocated before the device sees the request, so the
	// transfer cap has to be enforced here as well.
	if limit := s.dev.MaxTransfer(); limit > 0 && length > int64(limit) {
		err := fmt.Errorf("read range: %d bytes over the %d byte transfer cap: %w",
			length, limit, pkg.ErrInvalidParameter)
		writeError(w, statusForError(err), kindForError(err), err, 0)
		return
	}
	if length < 0 {
		err := fmt.Errorf("read range: negative length %d: %w", length, pkg.ErrOutOfBounds)
		writeError(w, statusForError(err), kindForError(err), err, 0)
		return
	}

	buf := make([]byte, length)
	s.mu.Lock()
	n, err := s.dev.ReadRange(buf, offset)
	s.mu.Unlock()
	if err != nil {
		writeError(w, statusForError(err), kindForError(err), err, int64(n))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	w.Write(buf[:n])
}

func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt64(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err, 0)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, fmt.Errorf("read body: %w", err), 0)
		return
	}

	s.mu.Lock()
	n, err := s.dev.WriteRange(body, offset)
	s.mu.Unlock()
	if err != nil {
		writeError(w, statusForError(err), kindForError(err), err, int64(n))
		return
	}

	writeJSON(w, http.StatusOK, completedBody{Completed: int64(n)})
}

func (s *server) handleErase(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt64(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err, 0)
		return
	}
	length, err := queryInt64(r, "length")
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err, 0)
		return
	}

	s.mu.Lock()
	n, err := s.dev.EraseRange(offset, length)
	s.mu.Unlock()
	if err != nil {
		writeError(w, statusForError(err), kindForError(err), err, n)
		return
	}

	writeJSON(w, http.StatusOK, completedBody{Completed: n})
}

func (s *server) handleSize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, kindBadRequest, fmt.Errorf("method %s not allowed", r.Method), 0)
		return
	}

	s.mu.Lock()
	size, err := s.dev.Size()
	s.mu.Unlock()
	if err != nil {
		writeError(w, statusForError(err), kindForError(err), err, 0)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Size int64 `json:"size"`
	}{Size: size})
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, kindBadRequest, fmt.Errorf("method %s not allowed", r.Method), 0)
		return
	}

	s.mu.Lock()
	state := s.dev.State()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, struct {
		State string `json:"state"`
	}{State: state.String()})
}

// queryInt64 parses a required integer query parameter.
func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q: %w", name, err)
	}
	return v, nil
}

// statusForError maps device errors onto HTTP statuses: an uninitialized
// card is a service problem, an over-cap request is a payload problem, a
// range outside the medium is unsatisfiable, and everything else is a
// failure of the card behind the server.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pkg.ErrInvalidState):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkg.ErrInvalidParameter):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pkg.ErrOutOfBounds):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusBadGateway
	}
}

func kindForError(err error) string {
	switch {
	case errors.Is(err, pkg.ErrInvalidState):
		return kindInvalidState
	case errors.Is(err, pkg.ErrInvalidParameter):
		return kindInvalidParameter
	case errors.Is(err, pkg.ErrOutOfBounds):
		return kindOutOfBounds
	default:
		return kindIO
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error, completed int64) {
	writeJSON(w, status, errorBody{
		Error:     err.Error(),
		Kind:      kind,
		Completed: completed,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		pkg.LogWarn(component, "response encode failed", "error", err)
	}
}
