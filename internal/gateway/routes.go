package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/ingest"
	"github.com/msgvault/msgvault/internal/store"
)

// registerRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.requireAuth(s.handleWebSocket))

	mux.HandleFunc("POST /webhook/{session}", s.requireWebhookToken(s.handleWebhook))

	mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleSessionList))
	mux.HandleFunc("GET /api/sessions/{session}", s.requireAuth(s.handleSessionGet))
	mux.HandleFunc("GET /api/sessions/{session}/qr", s.requireAuth(s.handleSessionQR))
	mux.HandleFunc("POST /api/sessions/{session}/start", s.requireAuth(s.handleSessionStart))
	mux.HandleFunc("POST /api/sessions/{session}/stop", s.requireAuth(s.handleSessionStop))
	mux.HandleFunc("POST /api/sessions/{session}/restart", s.requireAuth(s.handleSessionRestart))
	mux.HandleFunc("POST /api/sessions/{session}/force-restart", s.requireAuth(s.handleSessionForceRestart))
	mux.HandleFunc("POST /api/sessions/{session}/pairing-code", s.requireAuth(s.handlePairingCode))
	mux.HandleFunc("POST /api/sessions/{session}/chats/{chat}/sync", s.requireAuth(s.handleHistorySync))

	mux.HandleFunc("GET /api/messages", s.requireAuth(s.handleMessageQuery))

	mux.HandleFunc("GET /api/rules", s.requireAuth(s.handleRuleList))
	mux.HandleFunc("POST /api/rules", s.requireAuth(s.handleRuleUpsert))
	mux.HandleFunc("DELETE /api/rules/{rule}", s.requireAuth(s.handleRuleDelete))

	mux.HandleFunc("/", handleNotFound)
}

// requireAuth enforces the bearer token on control and query routes. An
// unset token leaves the API open; the loopback default bind is the only
// guard in that mode.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AuthToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next(w, r)
	}
}

// requireWebhookToken checks the shared secret on webhook deliveries.
func (s *Server) requireWebhookToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebhookToken != "" {
			got := r.Header.Get("X-Webhook-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid webhook token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook accepts one provider event. A 2xx acknowledges the delivery;
// anything else makes the provider redeliver, so only unhandled storage
// failures return 5xx.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	var ev ingest.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable event payload")
		return
	}

	if err := s.ingestor.HandleEvent(r.Context(), sessionID, ev); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("webhook event not handled")
		writeError(w, http.StatusInternalServerError, "event not durably handled")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	sess, ok := s.manager.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: "+sessionID)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSessionQR serves the pending QR challenge as a data URI image.
func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	challenge, ok := s.manager.Challenge(sessionID)
	if !ok || challenge.Kind != domain.ChallengeQR {
		writeError(w, http.StatusNotFound, "no pending QR challenge")
		return
	}

	image, err := s.qr(challenge.Value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding QR failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qr": image})
}

type startParams struct {
	AccountID string `json:"accountId"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	var p startParams
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&p)
	}

	sess, err := s.manager.Start(r.Context(), sessionID, p.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Stop(r.Context(), r.PathValue("session"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionRestart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Restart(r.Context(), r.PathValue("session"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionForceRestart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.ForceRestart(r.Context(), r.PathValue("session"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type pairingParams struct {
	PhoneNumber string `json:"phoneNumber"`
}

func (s *Server) handlePairingCode(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	var p pairingParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	code, err := s.manager.SubmitPhoneCode(r.Context(), sessionID, p.PhoneNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleHistorySync(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	chatID := r.PathValue("chat")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	res, err := s.reconciler.SyncChat(r.Context(), sessionID, chatID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleMessageQuery serves the history range query. start and end are
// RFC 3339; the window defaults to the last 24 hours. fallback=1 widens the
// window and matches group identifiers when the exact query is empty.
func (s *Server) handleMessageQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	chatID := q.Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return
	}

	end := time.Now()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC 3339")
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		start = t
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, "start is after end")
		return
	}

	var (
		msgs []domain.Message
		err  error
	)
	if q.Get("fallback") == "1" {
		msgs, err = s.messages.QueryRangeWithFallback(r.Context(), store.RangeQuery{
			ChatID:    chatID,
			GroupID:   q.Get("groupId"),
			GroupName: q.Get("groupName"),
			Start:     start,
			End:       end,
		})
	} else {
		msgs, err = s.messages.QueryRange(r.Context(), chatID, start, end)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) handleRuleList(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rules == nil {
		rules = []domain.MonitorRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleRuleUpsert(w http.ResponseWriter, r *http.Request) {
	var rule domain.MonitorRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable rule")
		return
	}
	if rule.GroupID == "" && rule.GroupName == "" {
		writeError(w, http.StatusBadRequest, "groupId or groupName is required")
		return
	}
	if len(rule.Keywords) == 0 {
		writeError(w, http.StatusBadRequest, "at least one keyword is required")
		return
	}

	saved, err := s.rules.Upsert(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(r.Context(), r.PathValue("rule")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnsupportedAuthMethod):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, domain.ErrSessionStart):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
