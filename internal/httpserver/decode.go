package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
