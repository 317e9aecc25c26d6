package signal

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/nearchat/internal/infrastructure/json"
	"github.com/hilthontt/nearchat/internal/transport/directlink"
)

// Handler serves the LAN signaling board used by the WebRTC fallback.
type Handler struct {
	board directlink.Signaler
}

func NewHandler(board directlink.Signaler) *Handler {
	return &Handler{board: board}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/{namespace}", func(r chi.Router) {
		r.Get("/peers", h.ListPeersHandler)
		r.Post("/peers", h.AnnounceHandler)
		r.Delete("/peers/{peerId}", h.WithdrawHandler)
		r.Post("/offers", h.PublishOfferHandler)
		r.Get("/offers/{peerId}", h.PollOffersHandler)
		r.Post("/answers", h.PublishAnswerHandler)
		r.Get("/answers/{peerId}", h.PollAnswersHandler)
	})
}

func (h *Handler) AnnounceHandler(w http.ResponseWriter, r *http.Request) {
	var req directlink.AnnounceRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if req.PeerID == "" {
		json.WriteBadRequestError(w, "peerId is required")
		return
	}

	if err := h.board.Announce(r.Context(), chi.URLParam(r, "namespace"), req.PeerID); err != nil {
		json.WriteInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.board.Withdraw(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "peerId")); err != nil {
		json.WriteInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPeersHandler(w http.ResponseWriter, r *http.Request) {
	peers, err := h.board.Peers(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		json.WriteInternalError(w, err)
		return
	}
	if peers == nil {
		peers = []string{}
	}
	json.Write(w, http.StatusOK, directlink.PeersResponse{Peers: peers})
}

func (h *Handler) PublishOfferHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := readSignal(w, r)
	if !ok {
		return
	}
	if err := h.board.PublishOffer(r.Context(), chi.URLParam(r, "namespace"), req.From, req.To, req.SDP); err != nil {
		json.WriteInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PublishAnswerHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := readSignal(w, r)
	if !ok {
		return
	}
	if err := h.board.PublishAnswer(r.Context(), chi.URLParam(r, "namespace"), req.To, req.From, req.SDP); err != nil {
		json.WriteInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PollOffersHandler(w http.ResponseWriter, r *http.Request) {
	signals, err := h.board.PollOffers(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "peerId"))
	writeSignals(w, signals, err)
}

func (h *Handler) PollAnswersHandler(w http.ResponseWriter, r *http.Request) {
	signals, err := h.board.PollAnswers(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "peerId"))
	writeSignals(w, signals, err)
}

func readSignal(w http.ResponseWriter, r *http.Request) (directlink.SignalRequest, bool) {
	var req directlink.SignalRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return req, false
	}
	if req.From == "" || req.To == "" || req.SDP == "" {
		json.WriteBadRequestError(w, "from, to and sdp are required")
		return req, false
	}
	return req, true
}

func writeSignals(w http.ResponseWriter, signals []directlink.SignalMessage, err error) {
	if err != nil {
		json.WriteInternalError(w, err)
		return
	}
	if signals == nil {
		signals = []directlink.SignalMessage{}
	}
	json.Write(w, http.StatusOK, directlink.SignalsResponse{Signals: signals})
}
