package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/queueup/backend/internal/logging"
)

const maxEnvelopeSize = 1 << 20

// SentryTunnelHandler forwards error envelopes from the web client to Sentry
// so browser reports are not blocked by ad blockers or CORS.
type SentryTunnelHandler struct {
	dsn    string
	scheme string
	client *http.Client
}

// NewSentryTunnelHandler creates a tunnel that only accepts envelopes for dsn.
// An empty dsn disables the tunnel.
func NewSentryTunnelHandler(dsn string) *SentryTunnelHandler {
	return &SentryTunnelHandler{
		dsn:    dsn,
		scheme: "https",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Tunnel checks that the envelope header names the configured DSN and relays
// the envelope to that project's ingest endpoint.
func (h *SentryTunnelHandler) Tunnel(w http.ResponseWriter, r *http.Request) {
	if h.dsn == "" {
		writeError(w, http.StatusNotFound, "sentry tunnel disabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope")
		return
	}

	// First line of an envelope is a JSON header carrying the DSN
	first, _, _ := bytes.Cut(body, []byte("\n"))
	var header struct {
		DSN string `json:"dsn"`
	}
	if err := json.Unmarshal(first, &header); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope header")
		return
	}
	if header.DSN != h.dsn {
		writeError(w, http.StatusForbidden, "unknown dsn")
		return
	}

	ingestURL, err := h.ingestURL(header.DSN)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dsn")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, ingestURL, bytes.NewReader(body))
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to build envelope request", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")

	resp, err := h.client.Do(req)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to forward sentry envelope",
			append(logging.RequestFields(r.Context()), slog.Any("error", err))...)
		writeError(w, http.StatusBadGateway, "sentry unreachable")
		return
	}
	defer resp.Body.Close()

	w.WriteHeader(resp.StatusCode)
}

// ingestURL maps a DSN of the form scheme://key@host/project to the
// project's envelope endpoint.
func (h *SentryTunnelHandler) ingestURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	projectID := strings.Trim(u.Path, "/")
	if u.Host == "" || projectID == "" {
		return "", errors.New("dsn has no host or project")
	}
	return h.scheme + "://" + u.Host + "/api/" + projectID + "/envelope/", nil
}
