package web

import (
	"net/http"

	"github.com/MrWong99/apex/internal/contact"
)

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.cfg.Catalog.Projects(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.cfg.Catalog.Project(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.cfg.Catalog.Services(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.cfg.Catalog.Service(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleAdvisorStart(w http.ResponseWriter, r *http.Request) {
	conv, err := s.cfg.Advisor.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAdvisorSend(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	msg, err := s.cfg.Advisor.Send(r.Context(), r.PathValue("conv"), req.Text)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type contactRequest struct {
	Name    string `json:"name"`
	Company string `json:"company"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	q, err := s.cfg.Contact.Submit(r.Context(), contact.Inquiry{
		Name:    req.Name,
		Company: req.Company,
		Email:   req.Email,
		Message: req.Message,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}
