// Package handlers implements the HTTP handlers of the damage API.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/roadsight/roadsight/internal/api/response"
	"github.com/roadsight/roadsight/internal/roaderrors"
	"github.com/roadsight/roadsight/internal/service"
)

// respondServiceError maps service-level errors onto HTTP statuses. Validation and
// not-found map to 4xx; a model transport failure maps to 502; partial persistence
// maps to 500 with an explicit retry hint since the committed record survives.
func respondServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *roaderrors.ValidationError
		notFoundErr   *roaderrors.NotFoundError
		partialErr    *service.PartialPersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		response.RespondBadRequest(w, validationErr.Error())
	case errors.As(err, &notFoundErr):
		response.RespondNotFound(w, notFoundErr.Error())
	case errors.As(err, &partialErr):
		response.RespondError(w, http.StatusInternalServerError, "Partial Persistence",
			fmt.Sprintf("damage record %s was saved but similarity indexing failed; retrying with the same id is safe", partialErr.DamageID))
	case errors.Is(err, service.ErrDetectionUnavailable):
		response.RespondError(w, http.StatusBadGateway, "Detection Unavailable",
			"the vision model could not be reached")
	default:
		response.RespondError(w, http.StatusInternalServerError, "Internal Server Error",
			"an unexpected error occurred")
	}
}
