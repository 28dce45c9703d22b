package db

import (
	"log"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a tailSQL instance over the event database on the
// debug mux. These routes are accessible only over localhost/via Tailscale.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://polly.db", db.DB, &tailsql.DBOptions{
		Label: "Polly events DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
