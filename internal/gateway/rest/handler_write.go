package rest

import (
	"errors"
	"net/http"

	"github.com/boxbase/boxbase/internal/writer"
	"github.com/boxbase/boxbase/pkg/model"
)

// WriteResponse is the body of a committed write.
type WriteResponse struct {
	Transaction uint64           `json:"transaction"`
	OK          bool             `json:"ok"`
	Revisions   map[string]int64 `json:"revisions"`
}

// ConflictResponse is the body of a write rejected by revision checks.
type ConflictResponse struct {
	Transaction uint64           `json:"transaction"`
	Error       string           `json:"error"`
	Conflicts   []model.Conflict `json:"conflicts"`
}

// handleWrite applies one transaction. The body maps every box id to its
// box; "_rev" carries the expected revision and "_deleted" marks deletes.
func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	base, ok := h.baseOrError(w, r)
	if !ok {
		return
	}

	var boxes map[string]model.Document
	if err := decodeBody(r, &boxes); err != nil {
		writeBodyError(w, err)
		return
	}

	changes, err := writer.ChangesFromDocuments(boxes)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	tx, err := writer.NewTransaction(base, changes)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	res, err := h.writer.Submit(r.Context(), tx)
	if err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, ConflictResponse{
				Transaction: tx.ID,
				Error:       "conflict",
				Conflicts:   conflict.Conflicts,
			})
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, WriteResponse{
		Transaction: res.Transaction,
		OK:          true,
		Revisions:   res.Revisions,
	})
}
