package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pushbridge/internal/composer"
	"pushbridge/internal/hostevents"
	"pushbridge/internal/identity"
	"pushbridge/internal/prefs"
	logx "pushbridge/pkg/logx"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- device registration ----

type registerRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"deviceToken"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c := callerFrom(r)
	targetID := req.UserID
	if targetID == "" {
		targetID = c.userID
	}
	if !canActFor(r, targetID) {
		writeError(w, http.StatusForbidden, "cannot register devices for another user")
		return
	}

	id, ok := identity.CanonicalUserID(targetID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	token, ok := identity.CanonicalToken(req.Token)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid device token")
		return
	}

	cfg := s.config()
	key := "register:" + c.userID
	if !s.limiter.TryAcquire(key, cfg.RegistrationMax, cfg.RegistrationWindow) {
		s.rejectRateLimited(w, key, cfg.RegistrationWindow, "registration rate limit exceeded")
		return
	}

	isNew, err := s.dir.UpsertToken(r.Context(), id, token)
	if err != nil {
		s.log.Warn("device registration failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if isNew {
		// Confirmation is best effort; registration already succeeded.
		if err := s.del.SendRegistrationConfirmation(r.Context(), token); err != nil {
			s.log.Warn("registration confirmation failed", logx.Err(err))
		}
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"userId": id, "new": isNew})
}

func (s *Server) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	token, ok := identity.CanonicalToken(chi.URLParam(r, "token"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid device token")
		return
	}

	removed, err := s.dir.RemoveToken(r.Context(), token)
	if err != nil {
		s.log.Warn("device removal failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "removal failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// ---- user administration ----

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.dir.Load(r.Context())
	if err != nil {
		s.log.Warn("user listing failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	type userSummary struct {
		ID             string `json:"id"`
		Devices        int    `json:"devices"`
		HasPreferences bool   `json:"hasPreferences"`
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{
			ID:             u.ID,
			Devices:        len(u.Tokens),
			HasPreferences: u.Preferences != nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.CanonicalUserID(chi.URLParam(r, "userID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.dir.DeleteUser(r.Context(), id); err != nil {
		s.log.Warn("user deletion failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- preferences ----

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "userID")
	if !canActFor(r, raw) {
		writeError(w, http.StatusForbidden, "cannot read another user's preferences")
		return
	}
	id, ok := identity.CanonicalUserID(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	p, _, err := s.dir.GetPreferences(r.Context(), id)
	if err != nil {
		s.log.Warn("preference lookup failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	// Absent preferences render as all-unset, indistinguishable from a user
	// who never chose anything. That is the semantic the filter applies too.
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "userID")
	if !canActFor(r, raw) {
		writeError(w, http.StatusForbidden, "cannot change another user's preferences")
		return
	}
	id, ok := identity.CanonicalUserID(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var p prefs.Preferences
	if !decodeBody(w, r, &p) {
		return
	}
	if err := s.dir.SetPreferences(r.Context(), id, p); err != nil {
		s.log.Warn("preference update failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---- admin messaging ----

type notifyRequest struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	UserIDs []string `json:"userIds,omitempty"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" && req.Body == "" {
		writeError(w, http.StatusBadRequest, "title or body required")
		return
	}

	recipients := identity.CanonicalUserIDs(req.UserIDs)
	if req.UserIDs != nil && len(recipients) == 0 {
		writeError(w, http.StatusBadRequest, "no valid user ids")
		return
	}
	if req.UserIDs == nil {
		recipients = nil // all users
	}

	title := truncateRunes(req.Title, maxTitleLen)
	body := truncateRunes(req.Body, maxBodyLen)
	if err := s.del.SendCustom(r.Context(), title, body, recipients); err != nil {
		writeError(w, http.StatusBadGateway, "delivery failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	cfg := s.config()
	key := "broadcast:" + callerFrom(r).userID
	if !s.limiter.TryAcquire(key, cfg.BroadcastMax, cfg.BroadcastWindow) {
		s.rejectRateLimited(w, key, cfg.BroadcastWindow, "broadcast rate limit exceeded")
		return
	}

	title := s.comp.Render("broadcast.title", composer.Vars{})
	body := truncateRunes(req.Message, maxBroadcastLen)
	if err := s.del.SendCustom(r.Context(), title, body, nil); err != nil {
		writeError(w, http.StatusBadGateway, "delivery failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleBaseURL(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"baseUrl": s.config().ExternalURL})
}

// ---- host event webhooks ----

type itemAddedRequest struct {
	ItemID     string `json:"itemId"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	SeriesID   string `json:"seriesId,omitempty"`
	SeriesName string `json:"seriesName,omitempty"`
	Season     *int   `json:"season,omitempty"`
	Episode    *int   `json:"episode,omitempty"`
}

func (s *Server) handleItemAdded(w http.ResponseWriter, r *http.Request) {
	var req itemAddedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.host.HandleItemAdded(r.Context(), hostevents.ItemAdded{
		ItemID:     req.ItemID,
		Type:       hostevents.ItemType(req.Type),
		Name:       req.Name,
		SeriesID:   req.SeriesID,
		SeriesName: req.SeriesName,
		Season:     req.Season,
		Episode:    req.Episode,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type playbackRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	ItemID    string `json:"itemId"`
	ItemName  string `json:"itemName"`
}

func (s *Server) handlePlaybackStart(w http.ResponseWriter, r *http.Request) {
	s.handlePlaybackEvent(w, r, true)
}

func (s *Server) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	s.handlePlaybackEvent(w, r, false)
}

func (s *Server) handlePlaybackEvent(w http.ResponseWriter, r *http.Request, start bool) {
	var req playbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev := hostevents.Playback{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		ItemID:    req.ItemID,
		ItemName:  req.ItemName,
	}
	if start {
		s.host.HandlePlaybackStart(r.Context(), ev)
	} else {
		s.host.HandlePlaybackStopped(r.Context(), ev)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
