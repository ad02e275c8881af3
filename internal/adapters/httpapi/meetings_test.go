package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwaylabs/huddle/internal/app"
	"github.com/hallwaylabs/huddle/internal/domain"
	"github.com/hallwaylabs/huddle/internal/store"
)

type apiHarness struct {
	router *gin.Engine
	store  *store.MemoryStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemory()
	st.PutUser(&domain.User{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: domain.RoleFounder, Active: true})
	st.PutUser(&domain.User{ID: "bob", Name: "Bob", Email: "bob@example.com", Role: domain.RoleStartup, Active: true})
	st.PutUser(&domain.User{ID: "carl", Name: "Carl", Email: "carl@example.com", Role: domain.RoleCorporate, Active: true})

	api := &MeetingAPI{
		Store:    st,
		Coord:    app.NewCoordinator(st),
		Secret:   testSecret,
		GuestTTL: time.Hour,
	}

	r := gin.New()
	r.Use(sessions.Sessions("TestSessions", cookie.NewStore([]byte(testSecret))))
	authed := r.Group("/api", Auth(testSecret))
	meetings := authed.Group("/meetings")
	meetings.POST("", api.Create)
	meetings.GET("/mine", api.MyMeetings)
	meetings.GET("/:id", api.Get)
	meetings.PUT("/:id", api.Update)
	meetings.POST("/join/:token", api.Join)
	return &apiHarness{router: r, store: st}
}

func (h *apiHarness) do(t *testing.T, method, path string, as domain.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	tok, err := SignIdentity(testSecret, as, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func alice() domain.Identity {
	return domain.Identity{ID: "alice", Name: "Alice", Role: domain.RoleFounder}
}

func createPayload() gin.H {
	return gin.H{
		"title":            "Pilot Kickoff",
		"scheduled_at":     time.Now().Add(3 * time.Hour).Format(time.RFC3339),
		"duration_minutes": 45,
		"meeting_type":     "specific_users",
		"specific_user_ids": []string{
			"bob",
		},
		"external_participants": []gin.H{
			{"name": "Gina", "email": "gina@example.com"},
		},
	}
}

func TestCreateMeetingEnrollsAndIssuesGuestTokens(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/meetings", alice(), createPayload())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Meeting struct {
			ID        int64  `json:"id"`
			RoomToken string `json:"room_token"`
		} `json:"meeting"`
		GuestTokens []struct {
			Email string `json:"email"`
			Token string `json:"token"`
		} `json:"guest_tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Meeting.RoomToken)
	require.Len(t, resp.GuestTokens, 1)

	guest, err := parseIdentity(testSecret, resp.GuestTokens[0].Token)
	require.NoError(t, err)
	assert.True(t, guest.Guest)
	assert.Equal(t, domain.UserID("guest:gina@example.com"), guest.ID)

	// Creator + bob + the guest are on the roster, carl is not.
	records, err := h.store.Participants(t.Context(), domain.MeetingID(resp.Meeting.ID))
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestCreateMeetingRejectsUnknownPolicy(t *testing.T) {
	h := newAPIHarness(t)
	payload := createPayload()
	payload["meeting_type"] = "vip_only"

	w := h.do(t, http.MethodPost, "/api/meetings", alice(), payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoleScopedPolicyEnrollsMatchingUsers(t *testing.T) {
	h := newAPIHarness(t)
	payload := createPayload()
	payload["meeting_type"] = "startup_only"

	w := h.do(t, http.MethodPost, "/api/meetings", alice(), payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Meeting struct {
			ID int64 `json:"id"`
		} `json:"meeting"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	records, err := h.store.Participants(t.Context(), domain.MeetingID(resp.Meeting.ID))
	require.NoError(t, err)
	// alice (creator/founder), bob (startup), and the external guest;
	// carl's corporate role does not match startup_only.
	ids := map[domain.UserID]bool{}
	for _, r := range records {
		ids[r.IdentityID()] = true
	}
	assert.True(t, ids["alice"])
	assert.True(t, ids["bob"])
	assert.True(t, ids["guest:gina@example.com"])
	assert.False(t, ids["carl"])
}

func TestRESTJoinHonorsPolicy(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodPost, "/api/meetings", alice(), createPayload())
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Meeting struct {
			RoomToken string `json:"room_token"`
		} `json:"meeting"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = h.do(t, http.MethodPost, "/api/meetings/join/"+resp.Meeting.RoomToken, domain.Identity{ID: "bob", Name: "Bob", Role: domain.RoleStartup}, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, http.MethodPost, "/api/meetings/join/"+resp.Meeting.RoomToken, domain.Identity{ID: "carl", Name: "Carl", Role: domain.RoleCorporate}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, "/api/meetings/join/nosuchtoken", alice(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateRestrictedToOrganizer(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodPost, "/api/meetings", alice(), createPayload())
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Meeting struct {
			ID int64 `json:"id"`
		} `json:"meeting"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	path := fmt.Sprintf("/api/meetings/%d", resp.Meeting.ID)

	w = h.do(t, http.MethodPut, path, domain.Identity{ID: "bob", Name: "Bob", Role: domain.RoleStartup}, gin.H{"title": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPut, path, alice(), gin.H{"title": "Renamed"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Renamed")
}

func TestMyMeetingsSplitsUpcomingAndPast(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/meetings", alice(), createPayload())
	require.Equal(t, http.StatusCreated, w.Code)

	past := createPayload()
	past["title"] = "Old Standup"
	past["scheduled_at"] = time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	w = h.do(t, http.MethodPost, "/api/meetings", alice(), past)
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(t, http.MethodGet, "/api/meetings/mine", alice(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Upcoming []gin.H `json:"upcoming"`
		Past     []gin.H `json:"past"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Upcoming, 1)
	assert.Len(t, resp.Past, 1)
}
