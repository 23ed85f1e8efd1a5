// Package httpapi exposes the tenant-facing REST surface: session lifecycle,
// message submission, the token ledger, and number analysis.
package httpapi

import "github.com/gorilla/mux"

type Server struct {
	Mux *mux.Router
}

func New() *Server {
	return &Server{Mux: mux.NewRouter()}
}
