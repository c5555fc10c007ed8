package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/manash/stylist/internal/image"
	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

func versionURL(version int) string {
	return fmt.Sprintf("/api/history/%d/image", version)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newState(s.ctrl.View()))
}

func (s *Server) handleSetText(w http.ResponseWriter, r *http.Request) {
	var req textUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err, nil)
		return
	}

	if req.Title != nil {
		s.ctrl.SetTitle(*req.Title)
	}
	if req.Price != nil {
		s.ctrl.SetPrice(*req.Price)
	}
	if req.OldPrice != nil {
		s.ctrl.SetOldPrice(*req.OldPrice)
	}
	if req.Instruction != nil {
		s.ctrl.SetInstruction(*req.Instruction)
	}

	writeJSON(w, http.StatusOK, newState(s.ctrl.View()))
}

func (s *Server) handleSetImage(w http.ResponseWriter, r *http.Request) {
	slot := session.Slot(mux.Vars(r)["slot"])
	if !slot.IsValid() {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", session.ErrInvalidSlot, slot), nil)
		return
	}

	body := http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	name := r.URL.Query().Get("filename")
	if err := s.ctrl.AttachReader(r.Context(), slot, body, name, imageMediaType(r.Header.Get("Content-Type"))); err != nil {
		s.writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newState(s.ctrl.View()))
}

// imageMediaType returns the base media type when it names an image, and ""
// otherwise so the codec falls back to detection.
func imageMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return ""
	}
	return mt
}

func (s *Server) handleClearAuxiliary(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.ClearAuxiliary()
	writeJSON(w, http.StatusOK, newState(s.ctrl.View()))
}

var errInstructionNotAccepted = errors.New("instruction is not accepted by generate: use refine or submit")

// submitHandler runs one of the controller's submit paths. A JSON body may
// carry the instruction, which withInstruction sets and submits under one
// lock; a nil withInstruction rejects it. The call is detached from the
// request so a client disconnect does not abort a generation that is
// already billed.
func (s *Server) submitHandler(
	plain func(*session.Controller, context.Context) error,
	withInstruction func(*session.Controller, context.Context, string) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err, nil)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		var err error
		switch {
		case req.Instruction == nil:
			err = plain(s.ctrl, ctx)
		case withInstruction == nil:
			writeError(w, http.StatusBadRequest, errInstructionNotAccepted, nil)
			return
		default:
			err = withInstruction(s.ctrl, ctx, *req.Instruction)
		}
		if err != nil {
			s.writeControllerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newState(s.ctrl.View()))
	}
}

// handleEvents streams the session state as server-sent events: one
// "state" event on connect and one after every change. Slow readers only
// get the latest state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	updates := make(chan session.View, 1)
	cancel := s.ctrl.Subscribe(func(v session.View) {
		select {
		case <-updates:
		default:
		}
		updates <- v
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	v := s.ctrl.View()
	for {
		if err := writeEvent(w, v); err != nil {
			log.Debugf("server: event stream closed: %v", err)
			return
		}
		if err := rc.Flush(); err != nil {
			log.Warnf("server: event stream cannot flush: %v", err)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case v = <-updates:
		}
	}
}

func writeEvent(w io.Writer, v session.View) error {
	data, err := json.Marshal(newState(v))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	return err
}

func (s *Server) navigateHandler(step func(*session.Controller) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		moved := step(s.ctrl)
		writeJSON(w, http.StatusOK, navigateResponse{Moved: moved, State: newState(s.ctrl.View())})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	v := s.ctrl.View()
	entries := s.ctrl.History()

	out := make([]entryInfo, 0, len(entries))
	for i, e := range entries {
		info := newEntryInfo(i+1, e)
		info.Current = i+1 == v.Position.Index
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCurrentImage(w http.ResponseWriter, _ *http.Request) {
	v := s.ctrl.View()
	if !v.HasCurrent {
		writeError(w, http.StatusNotFound, image.ErrNoImageData, nil)
		return
	}
	writeImage(w, v.Position.Index, v.Current.Image)
}

func (s *Server) handleVersionImage(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(mux.Vars(r)["version"])
	entries := s.ctrl.History()
	if err != nil || version < 1 || version > len(entries) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no version %s", mux.Vars(r)["version"]), nil)
		return
	}
	writeImage(w, version, entries[version-1].Image)
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusNotFound, errors.New("cost tracking is disabled"), nil)
		return
	}
	summary, err := s.recorder.Cost(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, costResponse{
		RunID:        s.recorder.RunID(),
		TotalCost:    summary.TotalCost,
		ImageCount:   summary.ImageCount,
		AttemptCount: summary.AttemptCount,
	})
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	state := newState(s.ctrl.View())
	writeError(w, statusFor(err), err, &state)
}

func writeImage(w http.ResponseWriter, version int, img models.EncodedImage) {
	mediaType := img.MediaType()
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(img.Len()))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": image.DownloadFilename(version, img),
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, img.Reader()); err != nil {
		log.Warnf("server: failed to write image: %v", err)
	}
}

// decodeJSON accepts an empty body.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("server: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error, state *stateResponse) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: errorKind(err), State: state})
}
