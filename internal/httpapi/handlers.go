/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package httpapi exposes the broadcast controller's request surface (§6)
// over HTTP, translating admission booleans into status codes and wiring
// requester identity through internal/auth the way the teacher's API layer
// wires claims into its station-automation handlers.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/auth"
	"github.com/friendsincode/pa_broadcast_core/internal/models"
)

// Controller is the subset of broadcast.Controller the API surface drives.
type Controller interface {
	RequestPlayback(ctx context.Context, task *models.Task) bool
	StopTask(ctx context.Context, taskID, taskType, requester string) bool
	SeekBackgroundMusic(ctx context.Context, user string, seconds float64) bool
	RegisterHeartbeat(user string)
	FeedStream(chunk []byte)
}

// API holds the dependencies every handler needs.
type API struct {
	controller Controller
	sessions   *sessionRegistry
	logger     zerolog.Logger

	jwtSecret         []byte
	adminUsername     string
	adminPasswordHash string
	tokenTTL          time.Duration
}

// New builds the handler set.
func New(controller Controller, jwtSecret []byte, adminUsername, adminPasswordHash string, tokenTTL time.Duration, logger zerolog.Logger) *API {
	return &API{
		controller:        controller,
		sessions:          newSessionRegistry(),
		logger:            logger,
		jwtSecret:         jwtSecret,
		adminUsername:     adminUsername,
		adminPasswordHash: adminPasswordHash,
		tokenTTL:          tokenTTL,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// --- login -------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	token, err := auth.Login(a.jwtSecret, a.adminUsername, a.adminPasswordHash, req.Username, req.Password, a.tokenTTL)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// --- start_broadcast (§6) -----------------------------------------------

type startBroadcastRequest struct {
	Zones        []string `json:"zones"`
	Type         string   `json:"type"`
	Content      string   `json:"content,omitempty"`
	Voice        string   `json:"voice,omitempty"`
	SessionToken string   `json:"session_token,omitempty"`
}

func priorityForType(t models.TaskType) models.Priority {
	switch t {
	case models.TaskTypeBackground:
		return models.PriorityBackground
	case models.TaskTypeEmergency:
		return models.PriorityEmergency
	default:
		return models.PriorityRealtime
	}
}

func (a *API) StartBroadcast(w http.ResponseWriter, r *http.Request) {
	user := auth.RequesterName(r)

	var req startBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	ttype := models.TaskType(strings.ToLower(strings.TrimSpace(req.Type)))
	switch ttype {
	case models.TaskTypeVoice, models.TaskTypeText, models.TaskTypeBackground:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type must be voice, text, or background"})
		return
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		Type:      ttype,
		Priority:  priorityForType(ttype),
		Status:    models.StatusPending,
		Requester: user,
		CreatedAt: time.Now(),
		Data: map[string]any{
			"user":    user,
			"content": req.Content,
			"voice":   req.Voice,
			"zones":   req.Zones,
		},
	}

	if !a.controller.RequestPlayback(r.Context(), task) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "device busy"})
		return
	}

	if req.SessionToken != "" {
		a.sessions.register(req.SessionToken, user)
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": task.ID})
}

// --- speak_chunk (§6) ----------------------------------------------------

type speakChunkRequest struct {
	AudioData string `json:"audio_data"`
}

func (a *API) SpeakChunk(w http.ResponseWriter, r *http.Request) {
	var req speakChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	raw := req.AudioData
	if idx := strings.Index(raw, ","); idx != -1 && strings.HasPrefix(raw, "data:") {
		raw = raw[idx+1:]
	}
	chunk, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		a.logger.Warn().Err(err).Msg("speak_chunk: malformed base64 payload, dropping chunk")
		writeJSON(w, http.StatusOK, nil)
		return
	}

	a.controller.FeedStream(chunk)
	writeJSON(w, http.StatusOK, nil)
}

// --- stop_broadcast / complete (§6) ---------------------------------------

type stopBroadcastRequest struct {
	Type   string `json:"type,omitempty"`
	TaskID string `json:"task_id,omitempty"`
}

func (a *API) StopBroadcast(w http.ResponseWriter, r *http.Request) {
	user := auth.RequesterName(r)

	var req stopBroadcastRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	stopped := a.controller.StopTask(r.Context(), req.TaskID, req.Type, user)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

type completeRequest struct {
	TaskID string `json:"task_id"`
}

// Complete marks a task complete on behalf of the playback pipeline
// itself, recorded with requester "System" (§6).
func (a *API) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.controller.StopTask(r.Context(), req.TaskID, "", "System")
	writeJSON(w, http.StatusOK, nil)
}

// --- stop_session (§6) -----------------------------------------------------

// StopSession handles the beacon-style request a browser fires on
// navigation away, identifying the session by query token rather than a
// bearer token since sendBeacon cannot set headers.
func (a *API) StopSession(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user := r.URL.Query().Get("user")

	if owner, ok := a.sessions.lookup(token); ok {
		user = owner
	}
	if user == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	a.controller.StopTask(r.Context(), "", "", user)
	a.sessions.revoke(token)
	writeJSON(w, http.StatusOK, nil)
}

// --- seek (§6) --------------------------------------------------------------

type seekRequest struct {
	Time float64 `json:"time"`
}

func (a *API) Seek(w http.ResponseWriter, r *http.Request) {
	user := auth.RequesterName(r)

	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	if !a.controller.SeekBackgroundMusic(r.Context(), user, req.Time) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no background task playing"})
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// --- heartbeat (§6) ---------------------------------------------------------

type heartbeatRequest struct {
	SessionToken string `json:"session_token,omitempty"`
}

func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	user := auth.RequesterName(r)

	var req heartbeatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	a.controller.RegisterHeartbeat(user)
	if req.SessionToken != "" {
		a.sessions.register(req.SessionToken, user)
	}
	writeJSON(w, http.StatusOK, nil)
}
