package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

var ErrRecordNotFound = errors.New("room record not found")

// RoomRecord is the archived shape of a room's metadata.
type RoomRecord struct {
	Code            domain.RoomCode   `json:"code"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	CreatedBy       domain.UserID     `json:"createdBy"`
	CreatedAt       time.Time         `json:"createdAt"`
	EndedAt         *time.Time        `json:"endedAt,omitempty"`
	Status          domain.RoomStatus `json:"status"`
	MaxParticipants int               `json:"maxParticipants"`
}

func RecordOf(r *domain.Room) RoomRecord {
	return RoomRecord{
		Code:            r.Code,
		Title:           r.Title,
		Description:     r.Description,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		Status:          r.Status,
		MaxParticipants: r.MaxParticipants,
	}
}

//go:generate mockgen -source=store_iface.go -destination=mocks/mock_store.go -package=mocks

// RoomStore is the best-effort archive. Its failures never abort in-memory work.
type RoomStore interface {
	Upsert(ctx context.Context, rec RoomRecord) error
	Find(ctx context.Context, code domain.RoomCode) (RoomRecord, error)
}
