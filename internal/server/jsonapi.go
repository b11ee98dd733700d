package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

// ContentType is the JSON:API media type every endpoint speaks.
const ContentType = "application/vnd.api+json"

const timeFormat = time.RFC3339

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type jsonapiObject struct {
	Version string `json:"version"`
}

type resource struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Attributes any    `json:"attributes,omitempty"`
}

type errorObject struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

type document struct {
	Data    any               `json:"data,omitempty"`
	Errors  []errorObject     `json:"errors,omitempty"`
	Meta    map[string]any    `json:"meta,omitempty"`
	Links   map[string]string `json:"links,omitempty"`
	JSONAPI jsonapiObject     `json:"jsonapi"`
}

func writeDocument(w http.ResponseWriter, status int, doc document) {
	doc.JSONAPI = jsonapiObject{Version: "1.1"}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(doc)
}

func writeResource(w http.ResponseWriter, status int, res resource, meta map[string]any) {
	writeDocument(w, status, document{Data: res, Meta: meta})
}

func writeCollection(w http.ResponseWriter, status int, resources []resource, meta map[string]any, links map[string]string) {
	if resources == nil {
		resources = []resource{}
	}

	writeDocument(w, status, document{Data: resources, Meta: meta, Links: links})
}

func writeMeta(w http.ResponseWriter, status int, meta map[string]any) {
	writeDocument(w, status, document{Meta: meta})
}

// writeError maps domain errors onto JSON:API error objects.
func writeError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	status := http.StatusInternalServerError
	title := "Internal Server Error"

	var (
		activeJob        *apperrors.ActiveJobError
		validationErrors validator.ValidationErrors
	)

	switch {
	case apperrors.As(err, &activeJob):
		status, title = http.StatusTooManyRequests, "Active Job Exists"
	case apperrors.As(err, &validationErrors),
		apperrors.Is(err, apperrors.ErrInvalidInput):
		status, title = http.StatusUnprocessableEntity, "Unprocessable Entity"
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		status, title = http.StatusUnauthorized, "Unauthorized"
	case apperrors.Is(err, apperrors.ErrForbidden):
		status, title = http.StatusForbidden, "Forbidden"
	case apperrors.Is(err, apperrors.ErrConflict):
		status, title = http.StatusConflict, "Conflict"
	case apperrors.Is(err, apperrors.ErrTerminalJob):
		status, title = http.StatusBadRequest, "Bad Request"
	case apperrors.Is(err, apperrors.ErrNotFound),
		apperrors.Is(err, apperrors.ErrNoteNotFound),
		apperrors.Is(err, apperrors.ErrCommunityNotFound),
		apperrors.Is(err, apperrors.ErrChannelNotFound),
		apperrors.Is(err, apperrors.ErrScanNotFound),
		apperrors.Is(err, apperrors.ErrJobNotFound):
		status, title = http.StatusNotFound, "Not Found"
	case apperrors.Is(err, apperrors.ErrProviderUnavailable):
		status, title = http.StatusServiceUnavailable, "Service Unavailable"
	}

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	}

	writeDocument(w, status, document{Errors: []errorObject{{
		Status: strconv.Itoa(status),
		Title:  title,
		Detail: err.Error(),
	}}})
}

// writeBadRequest reports a malformed request (bad body, missing filter).
func writeBadRequest(w http.ResponseWriter, detail string) {
	writeDocument(w, http.StatusBadRequest, document{Errors: []errorObject{{
		Status: strconv.Itoa(http.StatusBadRequest),
		Title:  "Bad Request",
		Detail: detail,
	}}})
}

// decodeResource unmarshals a single-resource request body and returns the
// resource id (when present) and its attributes decoded into attrs.
func decodeResource(r *http.Request, attrs any) (string, error) {
	var body struct {
		Data struct {
			Type       string          `json:"type"`
			ID         string          `json:"id"`
			Attributes json.RawMessage `json:"attributes"`
		} `json:"data"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode request body: %w", err)
	}

	if len(body.Data.Attributes) > 0 {
		if err := json.Unmarshal(body.Data.Attributes, attrs); err != nil {
			return "", fmt.Errorf("decode attributes: %w", err)
		}
	}

	return body.Data.ID, nil
}

type page struct {
	Number int
	Size   int
}

func parsePage(r *http.Request) page {
	p := page{Number: 1, Size: defaultPageSize}

	if raw := r.URL.Query().Get("page[number]"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Number = n
		}
	}

	if raw := r.URL.Query().Get("page[size]"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Size = min(n, maxPageSize)
		}
	}

	return p
}

func (p page) offset() int {
	return (p.Number - 1) * p.Size
}

// pageLinks builds the self/first/prev/next link set for a collection.
func pageLinks(u *url.URL, p page, total int) map[string]string {
	withPage := func(number int) string {
		q := u.Query()
		q.Set("page[number]", strconv.Itoa(number))
		q.Set("page[size]", strconv.Itoa(p.Size))

		out := *u
		out.RawQuery = q.Encode()

		return out.String()
	}

	links := map[string]string{
		"self":  withPage(p.Number),
		"first": withPage(1),
	}

	if p.Number > 1 {
		links["prev"] = withPage(p.Number - 1)
	}

	if p.offset()+p.Size < total {
		links["next"] = withPage(p.Number + 1)
	}

	return links
}
