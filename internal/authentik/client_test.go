package authentik

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListUsers_FollowsPagination(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/api/v3/core/users/", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"pagination": map[string]any{"next": 2},
				"results":    []map[string]any{{"pk": 1, "username": "akadmin", "is_active": true}},
			})
		case "2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"pagination": map[string]any{"next": 0},
				"results":    []map[string]any{{"pk": 7, "username": "deploy", "email": "deploy@example.com"}},
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok_abc")
	users, err := c.ListUsers(t.Context())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "akadmin", users[0].Username)
	assert.Equal(t, 7, users[1].PK)
	assert.Equal(t, "Bearer tok_abc", gotAuth)
}

func TestCreateUser_PostsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/core/users/", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deploy", body["username"])
		assert.Equal(t, true, body["is_active"])
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"pk": 42, "username": "deploy"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	u, err := c.CreateUser(t.Context(), "deploy", "Deploy Bot", "deploy@example.com")
	require.NoError(t, err)
	assert.Equal(t, 42, u.PK)
}

func TestAPIError_SurfacesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"Invalid token"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "bad")
	_, err := c.ListGroups(t.Context())
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Invalid token")
}

func TestDeleteGroup_UsesPKPath(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	require.NoError(t, c.DeleteGroup(t.Context(), "3f2a"))
	assert.Equal(t, "/api/v3/core/groups/3f2a/", gotPath)
	assert.Equal(t, http.MethodDelete, gotMethod)
}
