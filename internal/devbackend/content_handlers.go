package devbackend

import (
	"net/http"
	"strings"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/booking"
)

func (s *Server) handleFeed(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		body, ok := s.feeds[path]
		status := s.failing[path]
		s.mu.Unlock()

		switch {
		case status != 0:
			contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
				return contract.NewError(status, contract.ErrInternal, "")
			})
		case !ok:
			contract.ReturnError(w, s.log, func() (int, contract.ErrorResponse) {
				return contract.NotFound("no content at " + path)
			})
		default:
			w.Header().Set("Content-Type", "application/json")
			if _, err := w.Write(body); err != nil {
				s.log.Debug("failed to write feed", "path", path, "err", err)
			}
		}
	}
}

func (s *Server) handleLandingEmail(w http.ResponseWriter, r *http.Request) {
	var req contract.LandingEmailRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !booking.ValidEmail(email) {
		s.badRequest(w, "please enter a valid email address")
		return
	}

	s.mu.Lock()
	s.subscribers[email] = true
	s.mu.Unlock()
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, contract.MessageResponse{Success: true, Message: "Subscribed"})
}

func (s *Server) handleLandingContact(w http.ResponseWriter, r *http.Request) {
	var req contract.LandingContactRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || !booking.ValidEmail(strings.TrimSpace(req.Email)) {
		s.badRequest(w, "name and a valid email address are required")
		return
	}

	s.mu.Lock()
	s.contacts = append(s.contacts, req)
	s.mu.Unlock()
	s.log.Info("contact request received", "email", req.Email)
	contract.RespondJSONAndLog(w, s.log, http.StatusOK, contract.MessageResponse{Success: true, Message: "Thanks, we will be in touch"})
}

// Subscribed reports whether email opted in through the landing page.
func (s *Server) Subscribed(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers[strings.ToLower(strings.TrimSpace(email))]
}
