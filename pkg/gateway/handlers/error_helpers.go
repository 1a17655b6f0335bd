package handlers

import (
	"net/http"

	"github.com/voicelane/voicelane/pkg/gateway/apierror"
	"github.com/voicelane/voicelane/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	apierror.WriteJSON(w, status, apiErr)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.WriteJSON(w, http.StatusMethodNotAllowed, &apierror.Error{
		Type:      apierror.ErrInvalidRequest,
		Message:   "method not allowed",
		Code:      "method_not_allowed",
		RequestID: reqID,
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, message, param string) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.WriteJSON(w, http.StatusBadRequest, &apierror.Error{
		Type:      apierror.ErrInvalidRequest,
		Message:   message,
		Param:     param,
		RequestID: reqID,
	})
}
