package middleware

import (
	"context"
	"net/http"

	scs "github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
)

type contextKey string

const ViewerIDKey contextKey = "viewer_id"

// sessionViewerKey is where the viewer id lives in the session
const sessionViewerKey = "viewer_id"

// Viewer gives every browser session a stable viewer id and puts it on
// the request context. List fetchers are owned per viewer, so a newer
// list request from the same browser supersedes the older one.
func Viewer(sess *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := sess.GetString(ctx, sessionViewerKey)
			if id == "" {
				id = uuid.NewString()
				sess.Put(ctx, sessionViewerKey, id)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ViewerIDKey, id)))
		})
	}
}

// ViewerID returns the viewer id set by Viewer
func ViewerID(ctx context.Context) string {
	id, _ := ctx.Value(ViewerIDKey).(string)
	return id
}

func RequireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ViewerID(r.Context()) == "" {
			http.Error(w, "no viewer session", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
