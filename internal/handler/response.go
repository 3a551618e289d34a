package handler

import (
	"net/http"

	"github.com/bidlink/marketplace-core/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeBody reads the JSON body into out and answers 400 when it can't.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := httputil.DecodeJSON(r, out); err != nil {
		writeError(w, err)
		return false
	}
	return true
}
