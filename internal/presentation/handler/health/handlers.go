package health

import (
	"net/http"
	"time"

	"github.com/hilthontt/nearchat/internal/infrastructure/json"
)

// StatsFunc reports live room and member counts.
type StatsFunc func() (rooms, members int)

type Handler struct {
	startedAt time.Time
	stats     StatsFunc
}

func NewHandler(stats StatsFunc) *Handler {
	return &Handler{startedAt: time.Now(), stats: stats}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	data := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.stats != nil {
		data.Rooms, data.Members = h.stats()
	}
	json.Write(w, http.StatusOK, data)
}
