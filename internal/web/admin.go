package web

import (
	"net/http"

	"github.com/MrWong99/apex/internal/catalog"
)

// requireAdmin rejects requests without a valid access key.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.cfg.Admin.Authorize(r.Header.Get(AdminKeyHeader)); err != nil {
			fail(w, r, err)
			return
		}
		next(w, r)
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.cfg.Admin.Authorize(req.Password); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type projectResponse struct {
	Project  catalog.Project   `json:"project"`
	Projects []catalog.Project `json:"projects"`
}

func (s *Server) handleAdminSaveProject(w http.ResponseWriter, r *http.Request) {
	var p catalog.Project
	if err := decode(w, r, &p); err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if id := r.PathValue("id"); id != "" {
		p.ID = id
		status = http.StatusOK
	} else {
		p.ID = ""
	}
	saved, all, err := s.cfg.Admin.SaveProject(r.Context(), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, status, projectResponse{Project: saved, Projects: all})
}

func (s *Server) handleAdminDeleteProject(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.Admin.DeleteProject(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

type serviceResponse struct {
	Service  catalog.Service   `json:"service"`
	Services []catalog.Service `json:"services"`
}

func (s *Server) handleAdminSaveService(w http.ResponseWriter, r *http.Request) {
	var svc catalog.Service
	if err := decode(w, r, &svc); err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if id := r.PathValue("id"); id != "" {
		svc.ID = id
		status = http.StatusOK
	} else {
		svc.ID = ""
	}
	saved, all, err := s.cfg.Admin.SaveService(r.Context(), svc)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, status, serviceResponse{Service: saved, Services: all})
}

func (s *Server) handleAdminDeleteService(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.Admin.DeleteService(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

type regenerateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleAdminRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	services, err := s.cfg.Admin.RegenerateServices(r.Context(), req.Prompt)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleAdminInquiries(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.Contact.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}
