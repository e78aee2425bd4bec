package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

type RoomCode string

type RoomStatus string

const (
	RoomOngoing   RoomStatus = "ongoing"
	RoomEnded     RoomStatus = "ended"
	RoomCancelled RoomStatus = "cancelled"
)

const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
)

var (
	ErrTitleEmpty         = errors.New("title empty")
	ErrTitleTooLong       = errors.New("title too long")
	ErrDescriptionTooLong = errors.New("description too long")
)

type Room struct {
	Code            RoomCode
	Title           string
	Description     string
	CreatedBy       UserID
	CreatedAt       time.Time
	Status          RoomStatus
	MaxParticipants int
}

// NewRoom validates title and description and returns an ongoing room.
func NewRoom(code RoomCode, title, description string, by UserID, maxParticipants int, now time.Time) (*Room, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" {
		return nil, ErrTitleEmpty
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, ErrTitleTooLong
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return nil, ErrDescriptionTooLong
	}
	return &Room{
		Code:            code,
		Title:           title,
		Description:     description,
		CreatedBy:       by,
		CreatedAt:       now,
		Status:          RoomOngoing,
		MaxParticipants: maxParticipants,
	}, nil
}

func (r *Room) Ongoing() bool { return r.Status == RoomOngoing }
