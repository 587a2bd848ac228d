package midjourney

import (
	"encoding/json"
	"errors"
	"strings"
)

// Sentinels delimiting the embedded page data on /explore.
const (
	nextDataStart = `<script id="__NEXT_DATA__" type="application/json">`
	nextDataEnd   = `</script>`
)

// UserInfo identifies the authenticated user.
type UserInfo struct {
	UserID   string
	Username string
}

// AlphaSession is the elevated context needed to submit jobs and to open a
// live-update Session.
type AlphaSession struct {
	cookie   string
	userID   string
	webToken string
}

// NewAlphaSession builds an AlphaSession from known credentials.
func NewAlphaSession(cookie, userID, webToken string) AlphaSession {
	return AlphaSession{cookie: cookie, userID: userID, webToken: webToken}
}

// UserID returns the user the session belongs to.
func (a AlphaSession) UserID() string {
	return a.userID
}

// WebToken returns the websocket access token.
func (a AlphaSession) WebToken() string {
	return a.webToken
}

// NewSession creates a live-update Session for the alpha user.
func (a AlphaSession) NewSession(listener Listener, opts ...SessionOption) *Session {
	return NewSession(a.userID, a.webToken, listener, opts...)
}

type authPayload struct {
	Props struct {
		InitialAuthUser *authUser `json:"initialAuthUser"`
	} `json:"props"`
}

type authUser struct {
	MidjourneyID         string `json:"midjourney_id"`
	DisplayName          string `json:"displayName"`
	WebsocketAccessToken string `json:"websocketAccessToken"`
	Abilities            struct {
		WebTester *bool `json:"web_tester"`
	} `json:"abilities"`
}

// stringBetween returns the text between the first start and the first end
// after it.
func stringBetween(s, start, end string) (string, bool) {
	_, rest, ok := strings.Cut(s, start)
	if !ok {
		return "", false
	}
	between, _, ok := strings.Cut(rest, end)
	if !ok {
		return "", false
	}
	return between, true
}

// parseAuthUser extracts the signed-in user from an /explore page.
func parseAuthUser(html string) (*authUser, error) {
	payload, ok := stringBetween(html, nextDataStart, nextDataEnd)
	if !ok {
		return nil, ErrAuthPayloadMissing
	}

	var p authPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, decodeError(err)
	}
	u := p.Props.InitialAuthUser
	if u == nil {
		return nil, &DecodeError{Path: "props.initialAuthUser", Err: errMissingField}
	}
	if u.MidjourneyID == "" {
		return nil, &DecodeError{Path: "props.initialAuthUser.midjourney_id", Err: errMissingField}
	}
	return u, nil
}

// parseUserInfo maps an /explore page to UserInfo.
func parseUserInfo(html string) (UserInfo, error) {
	u, err := parseAuthUser(html)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{UserID: u.MidjourneyID, Username: u.DisplayName}, nil
}

// parseAlphaSession maps an alpha /explore page to an AlphaSession, requiring
// the web_tester ability.
func parseAlphaSession(html, cookie string) (AlphaSession, error) {
	u, err := parseAuthUser(html)
	if err != nil {
		return AlphaSession{}, err
	}
	if u.Abilities.WebTester == nil || !*u.Abilities.WebTester {
		return AlphaSession{}, ErrAuthUnauthorized
	}
	if u.WebsocketAccessToken == "" {
		return AlphaSession{}, &DecodeError{
			Path: "props.initialAuthUser.websocketAccessToken",
			Err:  errors.New("empty token"),
		}
	}
	return NewAlphaSession(cookie, u.MidjourneyID, u.WebsocketAccessToken), nil
}
