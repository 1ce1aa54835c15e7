package handlers

import (
	"net/http"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/buildinfo"
)

// HandleVersion returns the build properties.
func HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Get())
}
