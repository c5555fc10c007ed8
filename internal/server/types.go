package server

import (
	"errors"
	"net/http"

	"github.com/manash/stylist/internal/history"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

type imageInfo struct {
	MediaType string `json:"mediaType"`
	Bytes     int    `json:"bytes"`
}

type entryInfo struct {
	Version   int    `json:"version"`
	Label     string `json:"label"`
	Initial   bool   `json:"initial"`
	MediaType string `json:"mediaType"`
	Bytes     int    `json:"bytes"`
	Current   bool   `json:"current,omitempty"`
	URL       string `json:"url"`
}

type inputsInfo struct {
	Reference   *imageInfo `json:"reference"`
	Product     *imageInfo `json:"product"`
	Auxiliary   *imageInfo `json:"auxiliary"`
	Title       string     `json:"title"`
	Price       string     `json:"price"`
	OldPrice    string     `json:"oldPrice"`
	Instruction string     `json:"instruction"`
}

type positionInfo struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

type stateResponse struct {
	Current        *entryInfo   `json:"current"`
	Position       positionInfo `json:"position"`
	Busy           bool         `json:"busy"`
	Error          string       `json:"error,omitempty"`
	ErrorKind      string       `json:"errorKind,omitempty"`
	Mode           string       `json:"mode"`
	Model          string       `json:"model"`
	CanMoveBack    bool         `json:"canMoveBack"`
	CanMoveForward bool         `json:"canMoveForward"`
	Inputs         inputsInfo   `json:"inputs"`
}

type errorResponse struct {
	Error string         `json:"error"`
	Kind  string         `json:"kind,omitempty"`
	State *stateResponse `json:"state,omitempty"`
}

type navigateResponse struct {
	Moved bool          `json:"moved"`
	State stateResponse `json:"state"`
}

// textUpdate carries a partial update; nil fields are left alone.
type textUpdate struct {
	Title       *string `json:"title"`
	Price       *string `json:"price"`
	OldPrice    *string `json:"oldPrice"`
	Instruction *string `json:"instruction"`
}

type submitRequest struct {
	Instruction *string `json:"instruction"`
}

type costResponse struct {
	RunID        string  `json:"runId"`
	TotalCost    float64 `json:"totalCost"`
	ImageCount   int     `json:"imageCount"`
	AttemptCount int     `json:"attemptCount"`
}

func newState(v session.View) stateResponse {
	s := stateResponse{
		Position:       positionInfo{Index: v.Position.Index, Total: v.Position.Total},
		Busy:           v.Busy,
		Error:          v.ErrorMessage(),
		ErrorKind:      errorKind(v.Err),
		Mode:           v.Mode.String(),
		Model:          v.Model,
		CanMoveBack:    v.CanMoveBack,
		CanMoveForward: v.CanMoveForward,
		Inputs: inputsInfo{
			Reference:   newImageInfo(v.Inputs.Reference),
			Product:     newImageInfo(v.Inputs.Product),
			Auxiliary:   newImageInfo(v.Inputs.Auxiliary),
			Title:       v.Inputs.Title,
			Price:       v.Inputs.Price,
			OldPrice:    v.Inputs.OldPrice,
			Instruction: v.Inputs.Instruction,
		},
	}
	if v.HasCurrent {
		e := newEntryInfo(v.Position.Index, v.Current)
		e.Current = true
		e.URL = "/api/image/current"
		s.Current = &e
	}
	return s
}

func newImageInfo(img *models.EncodedImage) *imageInfo {
	if img == nil {
		return nil
	}
	return &imageInfo{MediaType: img.MediaType(), Bytes: img.Len()}
}

func newEntryInfo(version int, e history.Entry) entryInfo {
	return entryInfo{
		Version:   version,
		Label:     e.Label,
		Initial:   e.IsInitial(),
		MediaType: e.Image.MediaType(),
		Bytes:     e.Image.Len(),
		URL:       versionURL(version),
	}
}

func errorKind(err error) string {
	var f *session.Failure
	if errors.As(err, &f) {
		return string(f.Kind)
	}
	return ""
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case session.IsKind(err, session.KindValidation):
		return http.StatusUnprocessableEntity
	case session.IsKind(err, session.KindGeneration):
		return http.StatusBadGateway
	case session.IsKind(err, session.KindCodec):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
