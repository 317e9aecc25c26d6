package rooms

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/json"
	"github.com/hilthontt/nearchat/internal/session"
)

type Handler struct {
	registry *session.Registry
}

func NewHandler(registry *session.Registry) *Handler {
	return &Handler{registry: registry}
}

// CreateRoomHandler hands out a fresh room code. The room itself only exists
// once somebody joins it over the relay connection.
func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	code, err := domain.GenerateRoomCode()
	if err != nil {
		json.WriteInternalError(w, err)
		return
	}
	json.Write(w, http.StatusCreated, createRoomResponse{RoomCode: code})
}

func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	code, err := domain.NormalizeRoomCode(chi.URLParam(r, "roomCode"))
	if err != nil {
		json.WriteBadRequestError(w, err.Error())
		return
	}

	members := h.registry.Members(code)
	if members == nil {
		json.WriteNotFoundError(w, "room not found")
		return
	}

	json.Write(w, http.StatusOK, roomResponse{
		RoomCode:     code,
		Members:      members,
		MessageCount: len(h.registry.History(code)),
	})
}
