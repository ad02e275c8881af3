package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/app"
	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
)

// envelope carries every field any client event may set; handlers pick the
// ones their kind requires and validate presence themselves.
type envelope struct {
	Type      core.EventKind  `json:"type"`
	RoomToken string          `json:"room_token"`
	TargetID  domain.UserID   `json:"target_user_id"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
	IsMuted   bool            `json:"is_muted"`
	VideoOff  bool            `json:"is_video_off"`
	Message   string          `json:"message"`
}

func (ctl *Controller) handleFrame(ctx context.Context, sess *app.Session, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.SID)).Msg("bad json")
		ctl.Coord.SendError(c, core.ErrMalformedMessage)
		return
	}

	var err error
	switch env.Type {
	case core.KindJoinMeeting:
		err = ctl.Coord.Join(ctx, sess, env.RoomToken)
	case core.KindLeaveMeeting:
		err = ctl.Coord.LeaveMeeting(ctx, sess, env.RoomToken)
	case core.KindOffer:
		err = ctl.Coord.RelayOffer(sess, env.RoomToken, env.TargetID, env.Offer)
	case core.KindAnswer:
		err = ctl.Coord.RelayAnswer(sess, env.RoomToken, env.TargetID, env.Answer)
	case core.KindICECandidate:
		err = ctl.Coord.RelayICECandidate(sess, env.RoomToken, env.Candidate)
	case core.KindToggleAudio:
		err = ctl.Coord.ToggleAudio(sess, env.RoomToken, env.IsMuted)
	case core.KindToggleVideo:
		err = ctl.Coord.ToggleVideo(sess, env.RoomToken, env.VideoOff)
	case core.KindScreenShareStart:
		err = ctl.Coord.ScreenShare(sess, env.RoomToken, true)
	case core.KindScreenShareStop:
		err = ctl.Coord.ScreenShare(sess, env.RoomToken, false)
	case core.KindChatMessage:
		err = ctl.Coord.Chat(sess, env.RoomToken, env.Message)
	case core.KindAdminMute:
		err = ctl.Coord.ForceMute(sess, env.RoomToken, env.TargetID)
	case core.KindAdminKick:
		err = ctl.Coord.ForceKick(ctx, sess, env.RoomToken, env.TargetID)
	case core.KindStats:
		ctl.handleStats(sess, env.RoomToken)
	case core.KindPing:
		ctl.sendJSON(c, struct {
			Type core.EventKind `json:"type"`
		}{core.KindPong})
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		err = core.ErrMalformedMessage
	}

	if err != nil {
		se := core.AsSignalError(err)
		ctl.Coord.SendError(c, se)
		if se.Fatal {
			c.Close()
		}
	}
}

// handleStats replies only to the asker; a token with no live room gets an
// empty stats event rather than an error.
func (ctl *Controller) handleStats(sess *app.Session, token string) {
	st, _ := ctl.Coord.Stats(token)
	if sess.Conn != nil {
		ctl.sendJSON(sess.Conn, st)
	}
}

func (ctl *Controller) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
