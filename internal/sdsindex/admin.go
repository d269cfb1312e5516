package sdsindex

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"go.uber.org/zap"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the operator debugging surface on mux: a tailsql
// live-SQL browser over the index plus a one-shot gzip'd database backup
// download. Serve this only on a trusted interface.
func (ix *Index) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return Error.New("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://archive-index", ix.db, &tailsql.DBOptions{
		Label: "Archive index",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download an index backup", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("index-backup-%d.sqlite", time.Now().Unix())
		if _, err := ix.db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			_ = backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				ix.log.Warn("failed to remove backup file", zap.Error(err))
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			ix.log.Warn("failed to stream backup", zap.Error(err))
		}
	}))

	return nil
}
