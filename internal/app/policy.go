package app

import "github.com/dkeye/huddle/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
// strikes counts consecutive dropped frames.
type Policy interface {
	OnBackPressure(conn core.ConnID, strikes int) BackpressureAction
}

// StrikePolicy drops frames until a connection has missed Limit in a row,
// then kicks it. A zero Limit kicks on the first drop.
type StrikePolicy struct {
	Limit int
}

func (p StrikePolicy) OnBackPressure(_ core.ConnID, strikes int) BackpressureAction {
	if strikes >= p.Limit {
		return KickMember
	}
	return DropFrame
}
