package web

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// authUser is the basic auth user name, only the password is configurable
const authUser = "qman"

// authMiddleware checks basic auth against the bcrypt password hash, /ping stays open
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == authUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="qman status"`)
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}
