package rest

import (
	"net/http"

	"github.com/gorilla/schema"

	"github.com/boxbase/boxbase/internal/query"
)

// GetParams are the query parameters of GET /{base}/_get.
type GetParams struct {
	IDs []string `schema:"id"`
}

var paramsDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// handleGet returns the boxes for a JSON list of ids, in order, with {}
// for ids that are not stored.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	base, ok := h.baseOrError(w, r)
	if !ok {
		return
	}

	var ids []string
	if err := decodeBody(r, &ids); err != nil {
		writeBodyError(w, err)
		return
	}
	h.get(w, r, base, ids)
}

func (h *Handler) handleGetParams(w http.ResponseWriter, r *http.Request) {
	base, ok := h.baseOrError(w, r)
	if !ok {
		return
	}

	var params GetParams
	if err := paramsDecoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	h.get(w, r, base, params.IDs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, base string, ids []string) {
	if ids == nil {
		ids = []string{}
	}
	docs, err := h.reader.Get(r.Context(), base, ids)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleQuery runs named template queries: {"name": {"_templates": [...]}}.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	base, ok := h.baseOrError(w, r)
	if !ok {
		return
	}

	var reqs map[string]query.Request
	if err := decodeBody(r, &reqs); err != nil {
		writeBodyError(w, err)
		return
	}

	res, err := h.reader.Query(r.Context(), base, reqs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCount counts the matches of named template lists.
func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	base, ok := h.baseOrError(w, r)
	if !ok {
		return
	}

	var reqs map[string][]query.Template
	if err := decodeBody(r, &reqs); err != nil {
		writeBodyError(w, err)
		return
	}

	res, err := h.reader.Count(r.Context(), base, reqs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
