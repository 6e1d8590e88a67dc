package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/josiah-nelson/sfplib/internal/store"
)

// maxImportSize bounds profile uploads; the largest supported module page
// set is well under this.
const maxImportSize = 64 * 1024

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"profiles": count,
		"device":   s.dev != nil,
	})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"profiles": entries})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	hash, ok := s.resolveHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	rec, err := s.store.GetRecord(hash)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExportProfile(w http.ResponseWriter, r *http.Request) {
	hash, ok := s.resolveHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	data, err := s.store.Get(hash)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+store.ShortHash(hash)+`.bin"`)
	w.Write(data)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	hash, ok := s.resolveHash(w, chi.URLParam(r, "hash"))
	if !ok {
		return
	}
	if err := s.store.Delete(hash); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"deleted": hash})
}

func (s *Server) handleImportProfile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(data) == 0 {
		s.respondError(w, http.StatusBadRequest, "empty profile body")
		return
	}
	if len(data) > maxImportSize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "profile too large")
		return
	}

	hash, isNew, err := s.store.Import(data, store.NewSource("api", "", r.Header.Get("X-Filename")))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, map[string]any{"hash": hash, "new": isNew})
}

func (s *Server) handleDeviceVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"firmware": s.dev.FirmwareVersion()})
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.dev.Status(r.Context())
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	result, err := s.dev.Capture(r.Context())
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}
	status := http.StatusOK
	if result.New {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, result)
}

type writeRequest struct {
	Hash     string `json:"hash"`
	NoVerify bool   `json:"no_verify"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Hash == "" {
		s.respondError(w, http.StatusBadRequest, "hash is required")
		return
	}

	result, err := s.dev.WriteProfile(r.Context(), req.Hash, !req.NoVerify)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondDeviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	if err := s.dev.Erase(r.Context()); err != nil {
		s.respondDeviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "erased"})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.backups.List()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	path, err := s.backups.Create()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.backups.Restore(chi.URLParam(r, "name")); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) resolveHash(w http.ResponseWriter, raw string) (string, bool) {
	hash, err := s.store.Resolve(raw)
	if err != nil {
		s.respondStoreError(w, err)
		return "", false
	}
	return hash, true
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

// respondDeviceError maps session failures onto HTTP statuses: a busy
// session is a client-retryable conflict, timeouts are gateway timeouts,
// anything else is a bad gateway to the device.
func (s *Server) respondDeviceError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case isBusy(err):
		status = http.StatusConflict
	case isTimeout(err):
		status = http.StatusGatewayTimeout
	}
	s.respondError(w, status, err.Error())
}
