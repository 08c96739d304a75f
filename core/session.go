package core

type SessionStatus string

const (
	SessionRequiresProfileSetup SessionStatus = "requires_profile_setup"
	SessionPlayableOnline       SessionStatus = "playable_online"
	SessionPlayableOffline      SessionStatus = "playable_offline"
)

// NoSessionTicket is passed to the game when there is no access token.
const NoSessionTicket = "-"

// SessionDescriptor is what the launch process needs to start the game.
type SessionDescriptor struct {
	Status              SessionStatus `json:"status" yaml:"status"`
	Username            string        `json:"username" yaml:"username"`
	AccessToken         string        `json:"access_token" yaml:"access_token"`
	ClientToken         string        `json:"client_token" yaml:"client_token"`
	PlayerName          string        `json:"player_name" yaml:"player_name"`
	ProfileUUID         string        `json:"profile_uuid" yaml:"profile_uuid"`
	UserType            string        `json:"user_type" yaml:"user_type"`
	LegacySessionTicket string        `json:"legacy_session_ticket" yaml:"legacy_session_ticket"`
}

// FillSession projects d into a session descriptor. It does not modify d.
func FillSession(d AccountData, wantsOnline bool) SessionDescriptor {
	var status SessionStatus
	switch {
	case d.Entitlement.OwnsGame && !d.HasProfile():
		status = SessionRequiresProfileSetup
	case wantsOnline:
		status = SessionPlayableOnline
	default:
		status = SessionPlayableOffline
	}

	s := SessionDescriptor{
		Status:      status,
		Username:    d.UserName(),
		AccessToken: d.AccessToken(),
		ClientToken: d.ClientToken(),
		PlayerName:  d.ProfileName(),
		ProfileUUID: d.ProfileID(),
		UserType:    d.UserType(),
	}
	if s.AccessToken != "" {
		s.LegacySessionTicket = "token:" + s.AccessToken + ":" + s.ProfileUUID
	} else {
		s.LegacySessionTicket = NoSessionTicket
	}
	return s
}
