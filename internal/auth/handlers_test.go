package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *fakeUsers) {
	t.Helper()
	users := newFakeUsers()
	users.add(t, "11111111-1111-1111-1111-111111111111", "coach", "correct horse", "admin")
	users.add(t, "22222222-2222-2222-2222-222222222222", "viewer", "viewer pass")
	svc := newTestService(t, users)
	h := &Handler{Service: svc, AccessCookieName: "academy_access", CookieSameSite: http.SameSiteLaxMode}
	mw := Middleware{Service: svc, AccessCookie: "academy_access"}

	r := chi.NewRouter()
	r.Post("/auth/login", h.Login)
	r.Post("/auth/logout", h.Logout)
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth)
		r.Get("/auth/me", h.Me)
		r.With(RequireRole("admin")).Get("/admin/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r, users
}

func login(t *testing.T, router http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	return rr
}

func TestLoginHandlerSetsCookieAndToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := login(t, router, "coach", "correct horse")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Data struct {
			AccessToken string `json:"access_token"`
			User        User   `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.AccessToken)
	require.Equal(t, []string{"admin"}, body.Data.User.Roles)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "academy_access", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookies[0])
	me := httptest.NewRecorder()
	router.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	require.Contains(t, me.Body.String(), `"username":"coach"`)
}

func TestLoginHandlerRejectsBadCredentials(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := login(t, router, "coach", "nope")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_CREDENTIALS")

	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestRequireAuthAndRole(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/ping", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	var viewer struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(login(t, router, "viewer", "viewer pass").Body.Bytes(), &viewer))
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+viewer.Data.AccessToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	var admin struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(login(t, router, "coach", "correct horse").Body.Bytes(), &admin))
	req = httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+admin.Data.AccessToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)
}

func TestLoginHandlerIssuesCSRFToken(t *testing.T) {
	users := newFakeUsers()
	users.add(t, "11111111-1111-1111-1111-111111111111", "coach", "correct horse", "admin")
	h := &Handler{
		Service:          newTestService(t, users),
		AccessCookieName: "academy_access",
		IssueCSRF: func(w http.ResponseWriter) string {
			http.SetCookie(w, &http.Cookie{Name: "academy_csrf", Value: "tok"})
			return "tok"
		},
	}
	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"coach","password":"correct horse"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"csrf_token":"tok"`)
	require.Len(t, rr.Result().Cookies(), 2)
}
