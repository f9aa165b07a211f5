package middleware

import (
	"encoding/json"
	"net/http"
)

// ManifestContentType is the media type of a published manifest.
const ManifestContentType = "application/aibdp+json"

// ManifestHandler publishes the current manifest document verbatim.
func ManifestHandler(manifests ManifestProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var raw []byte
		if manifests != nil {
			raw = manifests.Current(r.Context()).Raw()
		}
		if raw == nil {
			writeJSONError(w, http.StatusNotFound, "Manifest not found")
			return
		}

		w.Header().Set("Content-Type", ManifestContentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(raw)
		}
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
