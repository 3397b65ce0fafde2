package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/media"
	"github.com/DanFrunza/Public-Data-Explorer/internal/middleware"
	"github.com/DanFrunza/Public-Data-Explorer/internal/usecase"
)

// multipart overhead allowed on top of the avatar itself
const uploadSlack = 1 << 20

func actorFrom(r *http.Request) (usecase.Actor, bool) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		return usecase.Actor{}, false
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return usecase.Actor{}, false
	}
	return usecase.Actor{ID: id, Role: claims.Role}, true
}

// targetUser resolves the {id} URL parameter; "me" or no parameter means the
// caller.
func targetUser(r *http.Request, actor usecase.Actor) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" || raw == "me" {
		return actor.ID, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, domain.ErrInvalidAccessToken.Message)
		return
	}

	user, err := h.userUsecase.GetProfile(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, domain.ErrInvalidAccessToken.Message)
		return
	}

	var req usecase.ProfileInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.userUsecase.UpdateProfile(r.Context(), actor.ID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, domain.ErrInvalidAccessToken.Message)
		return
	}
	target, ok := targetUser(r, actor)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, media.MaxAvatarBytes+uploadSlack)
	if err := r.ParseMultipartForm(media.MaxAvatarBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusBadRequest, "File too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	result, err := h.userUsecase.UploadAvatar(r.Context(), actor, target, usecase.AvatarUpload{
		Body:        file,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) GetAvatarURL(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, domain.ErrInvalidAccessToken.Message)
		return
	}
	target, ok := targetUser(r, actor)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	url, err := h.userUsecase.AvatarURL(r.Context(), actor, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatarUrl": url})
}

type authEventsResponse struct {
	Events []*domain.AuthEvent `json:"events"`
}

// GetAuthEvents lists credential events for the caller, or for {id} when
// mounted behind AdminOnly.
func (h *Handler) GetAuthEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, domain.ErrInvalidAccessToken.Message)
		return
	}
	target, ok := targetUser(r, actor)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.authUsecase.AuthEvents(r.Context(), target, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.AuthEvent{}
	}
	writeJSON(w, http.StatusOK, authEventsResponse{Events: events})
}
