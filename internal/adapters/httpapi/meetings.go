package httpapi

import (
	"crypto/rand"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/app"
	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
	"github.com/hallwaylabs/huddle/internal/notify"
	"github.com/hallwaylabs/huddle/internal/store"
)

var logger = log.With().Str("module", "httpapi").Logger()

// MeetingAPI serves meeting CRUD and attendance over REST. Live room
// state comes from the coordinator; durable state from the store.
type MeetingAPI struct {
	Store    store.Store
	Coord    *app.Coordinator
	Notifier *notify.Service
	Secret   string
	GuestTTL time.Duration
}

const tokenAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ23456789"

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	for i := range b {
		b[i] = tokenAlphabet[int(b[i])%len(tokenAlphabet)]
	}
	return string(b)
}

type externalParticipantReq struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

type createMeetingReq struct {
	Title           string                   `json:"title" binding:"required"`
	Description     string                   `json:"description"`
	ScheduledAt     time.Time                `json:"scheduled_at" binding:"required"`
	DurationMinutes int                      `json:"duration_minutes"`
	Timezone        string                   `json:"timezone"`
	AccessPolicy    string                   `json:"meeting_type"`
	MaxParticipants int                      `json:"max_participants"`
	Recording       bool                     `json:"recording_enabled"`
	ScreenShare     *bool                    `json:"screen_sharing_enabled"`
	Chat            *bool                    `json:"chat_enabled"`
	SpecificUserIDs []string                 `json:"specific_user_ids"`
	External        []externalParticipantReq `json:"external_participants"`
	CustomMessage   string                   `json:"custom_message"`
}

func (api *MeetingAPI) Create(c *gin.Context) {
	ident := IdentityFrom(c)
	var req createMeetingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := domain.ParseAccessPolicy(req.AccessPolicy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}
	if req.MaxParticipants <= 0 {
		req.MaxParticipants = 100
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	boolOr := func(p *bool, def bool) bool {
		if p == nil {
			return def
		}
		return *p
	}

	m := &domain.Meeting{
		CreatedByID:        ident.ID,
		Title:              req.Title,
		Description:        req.Description,
		ScheduledAt:        req.ScheduledAt,
		DurationMinutes:    req.DurationMinutes,
		Timezone:           req.Timezone,
		AccessPolicy:       policy,
		VideoEnabled:       true,
		AudioEnabled:       true,
		ChatEnabled:        boolOr(req.Chat, true),
		ScreenShareEnabled: boolOr(req.ScreenShare, true),
		RecordingEnabled:   req.Recording,
		RoomToken:          randomToken(16),
		RoomSecret:         randomToken(16),
		MaxParticipants:    req.MaxParticipants,
		Status:             domain.MeetingScheduled,
	}

	participants, err := api.buildEnrollment(c, m, req.SpecificUserIDs, req.External)
	if err != nil {
		logger.Error().Err(err).Msg("resolve enrollment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve participants"})
		return
	}
	if err := api.Store.CreateMeeting(c.Request.Context(), m, participants); err != nil {
		logger.Error().Err(err).Msg("create meeting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create meeting"})
		return
	}

	if api.Notifier != nil {
		if _, err := api.Notifier.MeetingEvent(c.Request.Context(), m, notify.MeetingCreated, req.CustomMessage); err != nil {
			logger.Warn().Err(err).Int64("meeting_id", int64(m.ID)).Msg("notify created")
		}
	}

	// Guests have no account to log in with; each gets a signed token the
	// organizer forwards along with the join link.
	guestTokens := make([]gin.H, 0, len(req.External))
	for _, ext := range req.External {
		tok, err := SignIdentity(api.Secret, domain.Identity{
			ID:    domain.UserID("guest:" + ext.Email),
			Name:  ext.Name,
			Role:  domain.RoleGuest,
			Guest: true,
		}, api.GuestTTL)
		if err != nil {
			continue
		}
		guestTokens = append(guestTokens, gin.H{"email": ext.Email, "token": tok})
	}

	c.JSON(http.StatusCreated, gin.H{
		"meeting":      meetingView(m),
		"join_url":     m.JoinURL(),
		"guest_tokens": guestTokens,
	})
}

// buildEnrollment resolves the invite list at creation time. The creator
// is always a moderator; policies that map to roles pre-enroll every
// active user holding one of them.
func (api *MeetingAPI) buildEnrollment(c *gin.Context, m *domain.Meeting, specific []string, external []externalParticipantReq) ([]*domain.Participant, error) {
	ctx := c.Request.Context()
	seen := map[domain.UserID]bool{}
	participants := []*domain.Participant{{
		UserID:           m.CreatedByID,
		IsModerator:      true,
		CanShareScreen:   true,
		CanChat:          true,
		AttendanceStatus: domain.AttendanceInvited,
	}}
	seen[m.CreatedByID] = true

	add := func(uid domain.UserID) {
		if uid == "" || seen[uid] {
			return
		}
		seen[uid] = true
		participants = append(participants, &domain.Participant{
			UserID:           uid,
			CanShareScreen:   m.ScreenShareEnabled,
			CanChat:          m.ChatEnabled,
			AttendanceStatus: domain.AttendanceInvited,
		})
	}

	switch m.AccessPolicy {
	case domain.AccessSpecificUsers:
		for _, id := range specific {
			add(domain.UserID(id))
		}
	case domain.AccessAllUsers:
		users, err := api.Store.ActiveUsers(ctx)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			add(u.ID)
		}
	default:
		users, err := api.Store.ActiveUsersByRole(ctx, m.AccessPolicy.Roles())
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			add(u.ID)
		}
	}

	for _, ext := range external {
		participants = append(participants, &domain.Participant{
			ExternalName:     ext.Name,
			ExternalEmail:    ext.Email,
			CanShareScreen:   m.ScreenShareEnabled,
			CanChat:          m.ChatEnabled,
			AttendanceStatus: domain.AttendanceInvited,
		})
	}
	return participants, nil
}

func (api *MeetingAPI) List(c *gin.Context) {
	meetings, err := api.Store.ListMeetings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list meetings"})
		return
	}
	out := make([]gin.H, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, meetingView(m))
	}
	c.JSON(http.StatusOK, gin.H{"meetings": out})
}

// MyMeetings splits the caller's meetings into upcoming and past, the way
// the dashboard consumes them.
func (api *MeetingAPI) MyMeetings(c *gin.Context) {
	ident := IdentityFrom(c)
	meetings, err := api.Store.MeetingsForUser(c.Request.Context(), ident.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list meetings"})
		return
	}
	now := time.Now()
	upcoming := make([]gin.H, 0)
	past := make([]gin.H, 0)
	for _, m := range meetings {
		end := m.ScheduledAt.Add(time.Duration(m.DurationMinutes) * time.Minute)
		if end.After(now) && m.Status != domain.MeetingCancelled && m.Status != domain.MeetingCompleted {
			upcoming = append(upcoming, meetingView(m))
		} else {
			past = append(past, meetingView(m))
		}
	}
	c.JSON(http.StatusOK, gin.H{"upcoming": upcoming, "past": past})
}

func (api *MeetingAPI) Get(c *gin.Context) {
	m, ok := api.loadMeeting(c)
	if !ok {
		return
	}
	participants, err := api.Store.Participants(c.Request.Context(), m.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load roster"})
		return
	}
	roster := make([]gin.H, 0, len(participants))
	for _, p := range participants {
		name := p.ExternalName
		if !p.IsGuest() {
			if u, err := api.Store.UserByID(c.Request.Context(), p.UserID); err == nil {
				name = u.Name
			}
		}
		roster = append(roster, gin.H{
			"participant_id": p.ID,
			"user_id":        p.IdentityID(),
			"name":           name,
			"is_moderator":   p.IsModerator,
			"is_guest":       p.IsGuest(),
			"status":         p.AttendanceStatus,
			"joined_at":      p.JoinedAt,
			"left_at":        p.LeftAt,
		})
	}

	view := meetingView(m)
	live, _ := api.Coord.Stats(m.RoomToken)
	view["live_participant_count"] = live.Count
	c.JSON(http.StatusOK, gin.H{"meeting": view, "participants": roster})
}

type updateMeetingReq struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	DurationMinutes *int       `json:"duration_minutes"`
	MaxParticipants *int       `json:"max_participants"`
	Status          *string    `json:"status"`
	CustomMessage   string     `json:"custom_message"`
}

func (api *MeetingAPI) Update(c *gin.Context) {
	m, ok := api.loadMeeting(c)
	if !ok {
		return
	}
	ident := IdentityFrom(c)
	if m.CreatedByID != ident.ID && !ident.Role.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the organizer can modify this meeting"})
		return
	}
	var req updateMeetingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cancelled := false
	if req.Title != nil {
		m.Title = *req.Title
	}
	if req.Description != nil {
		m.Description = *req.Description
	}
	if req.ScheduledAt != nil {
		m.ScheduledAt = *req.ScheduledAt
	}
	if req.DurationMinutes != nil && *req.DurationMinutes > 0 {
		m.DurationMinutes = *req.DurationMinutes
	}
	if req.MaxParticipants != nil && *req.MaxParticipants > 0 {
		m.MaxParticipants = *req.MaxParticipants
	}
	if req.Status != nil {
		status, err := domain.ParseMeetingStatus(*req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cancelled = status == domain.MeetingCancelled && m.Status != domain.MeetingCancelled
		m.Status = status
	}

	if err := api.Store.UpdateMeeting(c.Request.Context(), m); err != nil {
		logger.Error().Err(err).Int64("meeting_id", int64(m.ID)).Msg("update meeting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update meeting"})
		return
	}
	if api.Notifier != nil {
		kind := notify.MeetingUpdated
		if cancelled {
			kind = notify.MeetingCancelled
		}
		if _, err := api.Notifier.MeetingEvent(c.Request.Context(), m, kind, req.CustomMessage); err != nil {
			logger.Warn().Err(err).Int64("meeting_id", int64(m.ID)).Msg("notify update")
		}
	}
	c.JSON(http.StatusOK, gin.H{"meeting": meetingView(m)})
}

func (api *MeetingAPI) Delete(c *gin.Context) {
	m, ok := api.loadMeeting(c)
	if !ok {
		return
	}
	ident := IdentityFrom(c)
	if m.CreatedByID != ident.ID && !ident.Role.Privileged() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the organizer can delete this meeting"})
		return
	}
	if api.Notifier != nil && m.Status != domain.MeetingCancelled {
		if _, err := api.Notifier.MeetingEvent(c.Request.Context(), m, notify.MeetingCancelled, ""); err != nil {
			logger.Warn().Err(err).Int64("meeting_id", int64(m.ID)).Msg("notify cancelled")
		}
	}
	if err := api.Store.DeleteMeeting(c.Request.Context(), m.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete meeting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Join records durable attendance over REST, for clients that confirm a
// seat before opening the signaling socket. Authorization is the same
// evaluation the socket path runs.
func (api *MeetingAPI) Join(c *gin.Context) {
	ident := IdentityFrom(c)
	token := c.Param("token")
	dec, err := api.Coord.Policy.Authorize(c.Request.Context(), ident, token)
	if err != nil {
		writeSignalError(c, err)
		return
	}
	if !dec.AutoEnrolled {
		if err := api.Store.MarkJoined(c.Request.Context(), dec.Participant.ID, time.Now().UTC()); err != nil {
			logger.Warn().Err(err).Int64("participant_id", dec.Participant.ID).Msg("mark joined")
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"meeting":      meetingView(dec.Meeting),
		"is_moderator": dec.Participant.IsModerator,
		"room_token":   dec.Meeting.RoomToken,
	})
}

func (api *MeetingAPI) Leave(c *gin.Context) {
	ident := IdentityFrom(c)
	token := c.Param("token")
	m, err := api.Store.MeetingByRoomToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		return
	}
	p, err := api.Store.Participant(c.Request.Context(), m.ID, ident.ID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"left": false})
		return
	}
	if err := api.Store.MarkLeft(c.Request.Context(), p.ID, time.Now().UTC()); err != nil {
		logger.Warn().Err(err).Int64("participant_id", p.ID).Msg("mark left")
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

// AdminStats reports platform-wide aggregates plus the live room count
// known to this node.
func (api *MeetingAPI) AdminStats(c *gin.Context) {
	stats, err := api.Store.Stats(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meetings":   stats,
		"live_rooms": api.Coord.Rooms.Active(),
	})
}

func (api *MeetingAPI) loadMeeting(c *gin.Context) (*domain.Meeting, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
		return nil, false
	}
	m, err := api.Store.MeetingByID(c.Request.Context(), domain.MeetingID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load meeting"})
		}
		return nil, false
	}
	return m, true
}

// writeSignalError maps the coded room errors onto HTTP statuses so the
// REST surface and the socket surface agree on failure semantics.
func writeSignalError(c *gin.Context, err error) {
	se := core.AsSignalError(err)
	status := http.StatusForbidden
	switch se.Code {
	case core.ErrMeetingNotFound.Code, core.ErrRoomNotFound.Code:
		status = http.StatusNotFound
	case core.ErrMeetingCancelled.Code:
		status = http.StatusGone
	case core.ErrRoomFull.Code:
		status = http.StatusConflict
	case core.ErrAuthenticationRequired.Code:
		status = http.StatusUnauthorized
	case core.ErrMalformedMessage.Code:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": se.Message, "code": se.Code})
}

func meetingView(m *domain.Meeting) gin.H {
	return gin.H{
		"id":                     m.ID,
		"title":                  m.Title,
		"description":            m.Description,
		"scheduled_at":           m.ScheduledAt,
		"duration_minutes":       m.DurationMinutes,
		"timezone":               m.Timezone,
		"meeting_type":           m.AccessPolicy,
		"max_participants":       m.MaxParticipants,
		"status":                 m.Status,
		"created_by":             m.CreatedByID,
		"room_token":             m.RoomToken,
		"join_url":               m.JoinURL(),
		"chat_enabled":           m.ChatEnabled,
		"screen_sharing_enabled": m.ScreenShareEnabled,
		"recording_enabled":      m.RecordingEnabled,
	}
}
