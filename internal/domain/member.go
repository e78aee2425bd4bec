package domain

import "time"

// Member represents user's participation meta for a room.
// No transport or media logic here.
type Member struct {
	ID             UserID
	DisplayName    string
	Email          string
	IsHost         bool
	IsMuted        bool
	IsVideoEnabled bool
	JoinedAt       time.Time
}

// NewMember builds the meta of a fresh participant from its profile.
func NewMember(id UserID, p Profile, now time.Time) *Member {
	m := &Member{
		ID:             id,
		DisplayName:    p.DisplayName,
		Email:          p.Email,
		IsVideoEnabled: true,
		JoinedAt:       now,
	}
	m.Apply(p)
	return m
}

// Apply copies the optional status flags that are present in p.
func (m *Member) Apply(p Profile) {
	if p.IsMuted != nil {
		m.IsMuted = *p.IsMuted
	}
	if p.IsVideoEnabled != nil {
		m.IsVideoEnabled = *p.IsVideoEnabled
	}
}

// JoinedBefore orders members by join time, identity breaking ties.
func (m *Member) JoinedBefore(o *Member) bool {
	if !m.JoinedAt.Equal(o.JoinedAt) {
		return m.JoinedAt.Before(o.JoinedAt)
	}
	return m.ID < o.ID
}
