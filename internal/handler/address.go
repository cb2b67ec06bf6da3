package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// suggestAddress never fails: a degraded response tells the client to
// accept free-text input.
func (h *Handler) suggestAddress(w http.ResponseWriter, r *http.Request) {
	s := h.addresses.Suggest(r.Context(), r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("suggestions", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, item := range s.Items {
						e.Str(item)
					}
				})
			})
			e.Field("degraded", func(e *jx.Encoder) { e.Bool(s.Degraded) })
		})
	})
}
