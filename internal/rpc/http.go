package rpc

import (
	"errors"
	"io"
	"net/http"
)

// MaxRequestBytes caps one HTTP command body.
const MaxRequestBytes = 1 << 20

// ServeHTTP accepts one request object per POST. Recognized and
// unrecognized methods alike are answered with HTTP 200 and a structured
// body.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(d.Handle(r.Context(), body))
}
