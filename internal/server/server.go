// Package server exposes the chat client over HTTP: a JSON command API and a
// WebSocket event stream pushing transcript changes and streaming deltas.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/engine"
	"github.com/codefionn/personachat/internal/group"
	"github.com/codefionn/personachat/internal/logger"
	"github.com/codefionn/personachat/internal/store"
)

// Server is the HTTP and WebSocket front of the chat client.
type Server struct {
	cfg       *config.Config
	session   *chat.Session
	engine    *engine.Engine
	scheduler *group.Scheduler
	store     *store.Store

	hub        *Hub
	router     *httprouter.Router
	httpServer *http.Server
}

// NewServer wires the command API around the engine and scheduler.
func NewServer(cfg *config.Config, eng *engine.Engine, sched *group.Scheduler, st *store.Store) *Server {
	s := &Server{
		cfg:       cfg,
		session:   eng.Session(),
		engine:    eng,
		scheduler: sched,
		store:     st,
		hub:       NewHub(),
		router:    httprouter.New(),
	}

	eng.SetEvents(&hubEvents{hub: s.hub})
	if sched != nil {
		sched.SetEvents(&hubEvents{hub: s.hub})
	}

	s.setupRoutes()
	return s
}

// Start launches the hub and the HTTP listener.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.ServerPort),
		Handler: s.router,
	}

	go s.hub.Run()
	go func() {
		logger.Info("Server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down, aborting any in-flight generation.
func (s *Server) Stop() error {
	s.engine.Abort()
	s.hub.Stop()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Hub returns the WebSocket hub, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	s.router.GET("/api/chat", s.handleChat)
	s.router.POST("/api/chat/send", s.handleSend)
	s.router.POST("/api/chat/regenerate", s.handleRegenerate)
	s.router.POST("/api/chat/impersonate", s.handleImpersonate)
	s.router.POST("/api/chat/quiet", s.handleQuiet)
	s.router.POST("/api/chat/swipe/left", s.handleSwipeLeft)
	s.router.POST("/api/chat/swipe/right", s.handleSwipeRight)
	s.router.POST("/api/chat/stop", s.handleStop)
	s.router.PUT("/api/chat/turns/:index", s.handleEditTurn)
	s.router.DELETE("/api/chat/turns/last", s.handleDeleteLast)

	s.router.GET("/api/characters", s.handleCharacters)
	s.router.POST("/api/characters", s.handleAddCharacter)
	s.router.POST("/api/characters/:id/select", s.handleSelectCharacter)

	s.router.GET("/api/groups", s.handleGroups)
	s.router.POST("/api/groups", s.handleAddGroup)
	s.router.POST("/api/groups/:id/select", s.handleSelectGroup)

	s.router.POST("/api/connect", s.handleConnect)
	s.router.GET("/api/config", s.handleGetConfig)
	s.router.PUT("/api/config", s.handleUpdateConfig)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"online":     s.session.Online(),
		"generating": s.session.Generating(),
		"clients":    s.hub.ClientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn, s)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleChat(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"turns": s.session.Transcript().Turns(),
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.dispatchSend(req.Text)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.dispatchRegenerate()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleImpersonate(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.dispatchImpersonate()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleQuiet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	text, err := s.engine.Quiet(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleSwipeLeft(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := s.engine.SwipeLeft(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwipeRight(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.dispatchSwipeRight()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.engine.Abort()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditTurn(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	index, err := strconv.Atoi(ps.ByName("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.EditTurn(index, req.Text); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteLast(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := s.engine.DeleteLastTurn(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCharacters(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var out []*chat.CharacterProfile
	if s.store != nil {
		list, err := s.store.ListCharacters()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = list
	}
	writeJSON(w, http.StatusOK, map[string]any{"characters": out})
}

func (s *Server) handleAddCharacter(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var c chat.CharacterProfile
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := s.session.AddCharacter(&c)
	if s.store != nil {
		if err := s.store.SaveCharacter(&c); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleSelectCharacter(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if err := s.engine.StartChat(ps.ByName("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var out []*chat.GroupDefinition
	if s.store != nil {
		list, err := s.store.ListGroups()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = list
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var g chat.GroupDefinition
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := s.session.AddGroup(&g)
	if s.store != nil {
		if err := s.store.SaveGroup(&g); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleSelectGroup(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if s.session.Group(id) == nil {
		writeError(w, http.StatusNotFound, errors.New("unknown group"))
		return
	}
	s.session.SelectGroup(id)
	s.session.Transcript().Reset(nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.engine.Connect(r.Context()); err != nil {
		s.hub.Broadcast(&WebMessage{Type: MessageTypeOnlineStatus, Online: false, Timestamp: time.Now()})
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.hub.Broadcast(&WebMessage{Type: MessageTypeOnlineStatus, Online: true, Timestamp: time.Now()})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.engine.Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg := s.engine.Config()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.engine.SetConfig(cfg)
	w.WriteHeader(http.StatusNoContent)
}

// dispatchSend runs a send command in the background; results arrive through
// the event stream.
func (s *Server) dispatchSend(text string) {
	go func() {
		var err error
		if s.session.ActiveGroup() != nil && s.scheduler != nil {
			err = s.scheduler.Trigger(background(), group.TriggerOptions{
				Type:      engine.GenNormal,
				UserInput: text,
			})
		} else {
			err = s.engine.Send(background(), text)
		}
		if err != nil {
			s.broadcastError(err)
		}
	}()
}

func (s *Server) dispatchRegenerate() {
	go func() {
		var err error
		if s.session.ActiveGroup() != nil && s.scheduler != nil {
			err = s.scheduler.Trigger(background(), group.TriggerOptions{Type: engine.GenRegenerate})
		} else {
			err = s.engine.Regenerate(background())
		}
		if err != nil {
			s.broadcastError(err)
		}
	}()
}

func (s *Server) dispatchSwipeRight() {
	go func() {
		var err error
		if s.session.ActiveGroup() != nil && s.scheduler != nil {
			err = s.scheduler.Trigger(background(), group.TriggerOptions{Type: engine.GenSwipe})
		} else {
			_, err = s.engine.SwipeRight(background())
		}
		if err != nil {
			s.broadcastError(err)
		}
	}()
}

func (s *Server) dispatchImpersonate() {
	go func() {
		var err error
		if s.session.ActiveGroup() != nil && s.scheduler != nil {
			err = s.scheduler.Trigger(background(), group.TriggerOptions{Type: engine.GenImpersonate})
		} else {
			_, err = s.engine.Impersonate(background())
		}
		if err != nil {
			s.broadcastError(err)
		}
	}()
}

func (s *Server) broadcastError(err error) {
	logger.Error("Command failed: %v", err)
	s.hub.Broadcast(&WebMessage{
		Type:      MessageTypeError,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrGenerationInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoCharacterSelected):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
