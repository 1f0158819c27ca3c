package apiutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"studiobook/internal/api/authz"
)

func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// RequireUser rejects unauthenticated requests and returns the caller
// otherwise. Writes the 401 itself; callers just return on nil.
func RequireUser(w http.ResponseWriter, r *http.Request) *authz.AuthUser {
	user := authz.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil
	}
	return user
}

// RequireCoach additionally checks the coach role.
func RequireCoach(w http.ResponseWriter, r *http.Request) *authz.AuthUser {
	user := RequireUser(w, r)
	if user == nil {
		return nil
	}
	if !user.IsCoach() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil
	}
	return user
}
