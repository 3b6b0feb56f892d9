package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"parley/pkg/models"
	"parley/pkg/presence"
	"parley/pkg/service"
	"parley/pkg/telemetry"
	"parley/pkg/validation"
	"parley/pkg/window"
)

// Router builds the HTTP surface: the websocket endpoint, the REST read
// path and the operational endpoints.
func Router(chat *service.Chat, pres *presence.Manager, hub *Hub) *mux.Router {
	s := &restServer{chat: chat, pres: pres}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", hub.ServeWS)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/direct", s.directID).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}", s.purge).Methods(http.MethodDelete)
	v1.HandleFunc("/conversations/{id}/messages", s.messages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/preview", s.preview).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/roster", s.roster).Methods(http.MethodGet)
	return r
}

type restServer struct {
	chat *service.Chat
	pres *presence.Manager
}

func (s *restServer) health(w http.ResponseWriter, _ *http.Request) {
	if !s.chat.Store().Ready() {
		jsonError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	jsonWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

type inboxItem struct {
	ID      string          `json:"conversationId"`
	Direct  bool            `json:"direct,omitempty"`
	Preview *window.Preview `json:"preview,omitempty"`
	Online  int             `json:"onlineCount"`
}

func (s *restServer) listConversations(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.chat.Store().ListConversations()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "list failed")
		return
	}
	counts := s.pres.OnlineCounts()
	items := make([]inboxItem, 0, len(ids))
	for _, id := range ids {
		item := inboxItem{ID: id, Direct: models.IsDirect(id), Online: counts[id]}
		if p, err := s.chat.Windows().LatestPreview(id); err == nil && p != nil {
			item.Preview = p
		}
		items = append(items, item)
	}
	jsonWrite(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *restServer) directID(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Participants []string `json:"participants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Participants) != 2 {
		jsonError(w, http.StatusBadRequest, "two participants required")
		return
	}
	id, err := models.DirectID(body.Participants[0], body.Participants[1])
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonWrite(w, http.StatusOK, map[string]string{"conversationId": id})
}

func (s *restServer) messages(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	if err := validation.ConversationID(conv); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	before := q.Get("before")
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if before == "" && limit == 0 {
		items, err := s.chat.Windows().Latest(conv)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "window unavailable")
			return
		}
		if items == nil {
			items = []models.View{}
		}
		jsonWrite(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	p, err := s.chat.Page(conv, before, limit)
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			jsonError(w, http.StatusServiceUnavailable, "history unavailable")
			return
		}
		jsonError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	jsonWrite(w, http.StatusOK, p)
}

func (s *restServer) preview(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	if err := validation.ConversationID(conv); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.chat.Windows().LatestPreview(conv)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "preview unavailable")
		return
	}
	jsonWrite(w, http.StatusOK, map[string]any{"preview": p})
}

func (s *restServer) roster(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	if err := validation.ConversationID(conv); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	roster := s.pres.Roster(conv)
	if roster == nil {
		roster = []presence.Identity{}
	}
	jsonWrite(w, http.StatusOK, map[string]any{"roster": roster})
}

// purge drops the conversation and everything keyed under it. Group
// deletion flows through here; the log, overlays and reactions go
// together.
func (s *restServer) purge(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	if err := validation.ConversationID(conv); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.chat.Purge(r.Context(), conv); err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			jsonError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		jsonError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
