package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/josiah-nelson/sfplib/internal/session"
)

func isBusy(err error) bool {
	return errors.Is(err, session.ErrSessionBusy)
}

func isTimeout(err error) bool {
	return errors.Is(err, session.ErrReadTimeout) ||
		errors.Is(err, session.ErrWriteTimeout) ||
		errors.Is(err, session.ErrEraseTimeout) ||
		errors.Is(err, session.ErrCommandTimeout)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
