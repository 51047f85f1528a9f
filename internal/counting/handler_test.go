package counting

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestForceReleaseMountedUnderAdmin(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)
	handler := NewHandler(slog.Default(), svc)
	router := chi.NewRouter()
	router.Route("/counting", handler.MountRoutes)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/counting/admin/sessions/%d/force-release", got.Session.ID), nil)
	req.Header.Set("X-Actor-ID", "99")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, repo.sessions)
}

func TestForceReleaseNotOnSessionRoutes(t *testing.T) {
	repo := newMemorySessionRepo()
	svc := newTestService(repo)
	handler := NewHandler(slog.Default(), svc)
	router := chi.NewRouter()
	router.Route("/counting", handler.MountRoutes)

	got, err := svc.AcquireOrResume(context.Background(), 10, 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/counting/sessions/%d/force-release", got.Session.ID), nil)
	req.Header.Set("X-Actor-ID", "99")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, repo.sessions, 1)
}
