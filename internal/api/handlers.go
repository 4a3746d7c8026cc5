package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/SteelMorgan/journal-ingest/internal/discovery"
	"github.com/SteelMorgan/journal-ingest/internal/history"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MIMEMsgpack is used for msgpack request and response bodies
	MIMEMsgpack = "application/msgpack"

	formatParam   = "format"
	formatMsgpack = "msgpack"

	maxBackfillBody = 32 << 20
)

// Handler serves the HTTP control surface
type Handler struct {
	ingest  Ingester
	hub     Broadcaster
	history HistoryStore
	version string
}

// NewHandler creates the handler. history may be nil.
func NewHandler(ingest Ingester, hub Broadcaster, hist HistoryStore, version string) *Handler {
	return &Handler{
		ingest:  ingest,
		hub:     hub,
		history: hist,
		version: version,
	}
}

// respond encodes v as JSON, or msgpack when ?format=msgpack
func respond(c echo.Context, status int, v interface{}) error {
	if c.QueryParam(formatParam) != formatMsgpack {
		return c.JSON(status, v)
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(status, MIMEMsgpack, data)
}

// HandleHealth returns service health
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"version":     h.version,
		"tailing":     h.ingest.Tailing(),
		"scanning":    h.ingest.Scanning(),
		"subscribers": h.hub.Subscribers(),
	})
}

// HandleStartTail starts live tailing. It is a no-op when tailing already runs.
func (h *Handler) HandleStartTail(c echo.Context) error {
	if err := h.ingest.StartLiveTail(c.Request().Context()); err != nil {
		if errors.Is(err, discovery.ErrJournalDirMissing) {
			return NewBadRequestError("journal directory is not usable", err)
		}
		return NewServiceUnavailableError("cannot start live tail", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "tailing",
		"tailing": h.ingest.Tailing(),
	})
}

// HandleScan triggers a backlog rescan. ?clear=true drops every checkpoint
// first. A trigger while a scan runs is coalesced into it.
func (h *Handler) HandleScan(c echo.Context) error {
	clear := false
	if raw := c.QueryParam("clear"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return NewBadRequestError("invalid clear parameter", err)
		}
		clear = v
	}

	if !h.ingest.Rescan(clear) {
		if h.ingest.Scanning() {
			return c.JSON(http.StatusOK, map[string]string{"status": "already_running"})
		}
		return NewServiceUnavailableError("ingest service is not running", nil)
	}

	log.Info().Bool("clear", clear).Msg("Rescan requested")
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"status": "started",
		"clear":  clear,
	})
}

// HandleState returns the last value per event kind, the snapshots and the
// config error notice
func (h *Handler) HandleState(c echo.Context) error {
	return respond(c, http.StatusOK, h.hub.LastValues())
}

// HandleCheckpoints returns the committed checkpoint map
func (h *Handler) HandleCheckpoints(c echo.Context) error {
	return respond(c, http.StatusOK, h.ingest.Checkpoints())
}

// HandleHistory returns travel history, newest first. ?limit=N truncates.
func (h *Handler) HandleHistory(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("history is disabled", nil)
	}

	entries := h.history.Entries()
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return NewBadRequestError("invalid limit parameter", err)
		}
		if limit < len(entries) {
			entries = entries[:limit]
		}
	}
	return respond(c, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   h.history.Len(),
	})
}

// HandleBackfill merges externally sourced history entries. The body is a
// JSON array, or msgpack when sent as application/msgpack.
func (h *Handler) HandleBackfill(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("history is disabled", nil)
	}

	var entries []history.Entry
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), MIMEMsgpack) {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBackfillBody))
		if err != nil {
			return NewBadRequestError("failed to read body", err)
		}
		if err := msgpack.Unmarshal(body, &entries); err != nil {
			return NewBadRequestError("invalid msgpack body", err)
		}
	} else if err := c.Bind(&entries); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	for i, e := range entries {
		if e.StarSystem == "" || e.Timestamp.IsZero() {
			return NewBadRequestError("entry "+strconv.Itoa(i)+" needs star_system and timestamp", nil)
		}
	}

	added := h.history.MergeBackfill(entries)
	return c.JSON(http.StatusOK, map[string]int{
		"received": len(entries),
		"added":    added,
		"total":    h.history.Len(),
	})
}
