package signal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gin-gonic/gin"
)

const guestPrefix = "guest-"

// GuestIDKey is the gin context key under which the session layer leaves the
// guest id of the browser. The id is public; the signed session holding it is
// the credential.
const GuestIDKey = "guest_id"

// identify resolves the caller from a bearer token (header or "token" query
// parameter), falling back to the session's guest id.
func (ctl *SignalWSController) identify(c *gin.Context) (core.Identity, error) {
	if token := bearerToken(c); token != "" {
		if ctl.Verifier == nil {
			return core.Identity{}, core.Errorf(core.KindUnauthenticated, "token verification disabled")
		}
		who, err := ctl.Verifier.Verify(c.Request.Context(), token)
		if err != nil {
			return core.Identity{}, err
		}
		return who, nil
	}
	if !ctl.opts.AllowGuests {
		return core.Identity{}, core.Errorf(core.KindUnauthenticated, "missing token")
	}
	gid := c.GetString(GuestIDKey)
	if gid == "" {
		return core.Identity{}, core.Errorf(core.KindUnauthenticated, "missing guest session")
	}
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		name = "Guest"
	}
	return core.Identity{ID: domain.UserID(guestPrefix + gid), DisplayName: name}, nil
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// actor is the identity a request acts as. A payload may repeat the
// connection's identity but never name another one.
func actor(c *WsSignalConn, claimed domain.UserID) (domain.UserID, error) {
	if claimed != "" && claimed != c.identity.ID {
		return "", core.Errorf(core.KindForbidden, "connection cannot act as %s", claimed)
	}
	return c.identity.ID, nil
}

// profileFor fills what the client left out from the connection identity.
func profileFor(c *WsSignalConn, p *domain.Profile) domain.Profile {
	var out domain.Profile
	if p != nil {
		out = *p
	}
	if strings.TrimSpace(out.DisplayName) == "" {
		out.DisplayName = c.identity.DisplayName
	}
	if out.Email == "" {
		out.Email = c.identity.Email
	}
	return out
}

func (ctl *SignalWSController) handleWhoAmI(_ context.Context, c *WsSignalConn, _ json.RawMessage) (any, error) {
	resp := struct {
		Identity    domain.UserID `json:"identity"`
		DisplayName string        `json:"displayName"`
		Email       string        `json:"email,omitempty"`
		Verified    bool          `json:"verified"`
		Conn        core.ConnID   `json:"conn"`
	}{
		Identity:    c.identity.ID,
		DisplayName: c.identity.DisplayName,
		Email:       c.identity.Email,
		Verified:    c.identity.Verified,
		Conn:        c.id,
	}
	return resp, nil
}
