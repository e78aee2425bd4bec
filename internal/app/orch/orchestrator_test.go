package orch

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/core/mocks"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var codePattern = regexp.MustCompile(`^[a-z]{3}-[a-z]{4}-[a-z]{3}$`)

func TestCreateRoomAdmitsHost(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "  Standup  "}, requester("h"))
	require.NoError(t, err)

	assert.Regexp(t, codePattern, string(view.Code))
	assert.Equal(t, "Standup", view.Title)
	assert.Equal(t, domain.RoomOngoing, view.Status)
	assert.Equal(t, domain.UserID("h"), view.CreatedBy)
	assert.Equal(t, 1, view.ParticipantCount)
	assert.Equal(t, "h-name", view.HostName)
	assert.Equal(t, []domain.UserID{"h"}, hosts(view))

	created := f.pub.ofType(core.EventRoomCreated)
	require.Len(t, created, 1)
	assert.Equal(t, []core.ConnID{conn("h")}, created[0].to)

	lists := f.pub.ofType(core.EventRoomListUpdated)
	require.Len(t, lists, 1)
	assert.True(t, lists[0].all)
	rooms := lists[0].ev.Data.(RoomListData).Rooms
	require.Len(t, rooms, 1)
	assert.Equal(t, view.Code, rooms[0].Code)
	assert.Empty(t, rooms[0].Participants)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t, nil, Options{DefaultMaxParticipants: 10, MaxParticipants: 50})
	ctx := context.Background()

	_, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "   "}, requester("h"))
	assert.ErrorIs(t, err, core.ErrBadRequest)

	_, err = f.o.CreateRoom(ctx, CreateRoomRequest{Title: "ok"}, Requester{Conn: "c"})
	assert.ErrorIs(t, err, core.ErrBadRequest)

	for in, want := range map[int]int{0: 10, 1: 2, 7: 7, 500: 50} {
		view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r", MaxParticipants: in}, requester("h"))
		require.NoError(t, err)
		assert.Equal(t, want, view.MaxParticipants, "requested %d", in)
	}
	assert.Len(t, f.eng.Routers(), 4)
}

func TestCreateRoomEngineFailure(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.eng.FailCreate = errors.New("worker busy")

	_, err := f.o.CreateRoom(context.Background(), CreateRoomRequest{Title: "r"}, requester("h"))
	assert.ErrorIs(t, err, core.ErrUpstream)
	assert.Empty(t, f.o.ListRooms())
	assert.Zero(t, f.pub.count())
}

func TestSingleHost(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := f.o.JoinRoom(ctx, view.Code, domain.UserID(id), profile(id), conn(id))
		require.NoError(t, err)
	}

	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, 4, details.ParticipantCount)
	assert.Equal(t, []domain.UserID{"h"}, hosts(details))

	require.NoError(t, f.o.LeaveRoom(ctx, view.Code, "h", conn("h")))
	details, err = f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Len(t, hosts(details), 1)
}

func TestJoinReattachIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, view.Code, "p", profile("p"), "conn-p-1")
	require.NoError(t, err)

	tr, err := f.o.CreateTransport(ctx, view.Code, "p", core.DirectionSend)
	require.NoError(t, err)
	pid, err := f.o.Produce(ctx, view.Code, "p", tr.ID, core.ProduceParams{Kind: core.KindAudio})
	require.NoError(t, err)

	res, err := f.o.JoinRoom(ctx, view.Code, "p", domain.Profile{DisplayName: "Renamed", IsMuted: boolPtr(true)}, "conn-p-2")
	require.NoError(t, err)
	assert.True(t, res.Reconnected)
	assert.Equal(t, 2, res.Room.ParticipantCount)
	assert.Empty(t, res.CurrentMedia, "own producers are not offered back")

	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	require.Len(t, details.Participants, 2)
	p := details.Participants[1]
	assert.Equal(t, "Renamed", p.DisplayName)
	assert.True(t, p.IsMuted)

	// the producer survived the reattach and is still offered to others
	hostJoin, err := f.o.JoinRoom(ctx, view.Code, "h", profile("h"), conn("h"))
	require.NoError(t, err)
	require.Len(t, hostJoin.CurrentMedia, 1)
	assert.Equal(t, pid, hostJoin.CurrentMedia[0].ProducerID)

	// the stale connection no longer owns the peer
	f.pub.reset()
	assert.Zero(t, f.o.OnConnectionLost(ctx, "conn-p-1"))
	assert.Zero(t, f.pub.count())
	details, err = f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, details.ParticipantCount)
}

func TestJoinErrors(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	_, err := f.o.JoinRoom(ctx, "zzz-zzzz-zzz", "p", profile("p"), conn("p"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r", MaxParticipants: 2}, requester("h"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, view.Code, "p1", profile("p1"), conn("p1"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, view.Code, "p2", profile("p2"), conn("p2"))
	assert.ErrorIs(t, err, core.ErrInvalidState, "room is full")

	require.NoError(t, f.o.EndRoom(ctx, view.Code, "h"))
	_, err = f.o.JoinRoom(ctx, view.Code, "p2", profile("p2"), conn("p2"))
	assert.ErrorIs(t, err, core.ErrInvalidState, "room has ended")
}

func TestLastLeaveEndsAndCleansUp(t *testing.T) {
	f := newFixture(t, nil, Options{CleanupDelay: 20 * time.Millisecond})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	require.NoError(t, f.o.LeaveRoom(ctx, view.Code, "h", conn("h")))

	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomEnded, details.Status)
	assert.Empty(t, f.o.ListRooms())
	assert.Eventually(t, f.eng.Routers()[0].Closed, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, err := f.o.RoomDetails(context.Background(), view.Code)
		return errors.Is(err, core.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestCleanupSparesNewRoomWithSameCode(t *testing.T) {
	f := newFixture(t, nil, Options{CleanupDelay: 10 * time.Millisecond})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)

	f.o.mu.Lock()
	stale, _ := f.o.Registry.Get(view.Code)
	f.o.endLocked(stale, ReasonHostEnded)
	f.o.mu.Unlock()

	// fire a cleanup for a generation that no longer owns the code
	f.o.cleanup(view.Code, stale.Generation()+100)
	_, err = f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := f.o.RoomDetails(context.Background(), view.Code)
		return errors.Is(err, core.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestHostTransferIsDeterministic(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	for _, id := range []string{"zed", "amy", "bob"} {
		_, err := f.o.JoinRoom(ctx, view.Code, domain.UserID(id), profile(id), conn(id))
		require.NoError(t, err)
	}
	f.pub.reset()

	require.NoError(t, f.o.LeaveRoom(ctx, view.Code, "h", conn("h")))

	transfers := f.pub.ofType(core.EventHostTransferred)
	require.Len(t, transfers, 1)
	data := transfers[0].ev.Data.(HostTransferredData)
	assert.Equal(t, domain.UserID("zed"), data.Host.Identity, "earliest joiner wins, not identity order")
	assert.Equal(t, domain.UserID("h"), data.PreviousHost)
	assert.ElementsMatch(t, []core.ConnID{conn("zed"), conn("amy"), conn("bob")}, transfers[0].to)

	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"zed"}, hosts(details))
	assert.Equal(t, domain.UserID("zed"), details.CreatedBy)
	assert.Equal(t, "zed-name", details.HostName)

	left := f.pub.ofType(core.EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, ReasonLeft, left[0].ev.Data.(ParticipantLeftData).Reason)
}

func TestHostTransferTieBreaksOnIdentity(t *testing.T) {
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, nil, Options{Clock: func() time.Time { return at }})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	for _, id := range []string{"carl", "anna", "bert"} {
		_, err := f.o.JoinRoom(ctx, view.Code, domain.UserID(id), profile(id), conn(id))
		require.NoError(t, err)
	}
	require.NoError(t, f.o.LeaveRoom(ctx, view.Code, "h", conn("h")))

	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"anna"}, hosts(details))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	assert.Zero(t, f.o.OnConnectionLost(ctx, "never-seen"))
	assert.Zero(t, f.pub.count())

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, view.Code, "p", profile("p"), conn("p"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.o.OnConnectionLost(ctx, conn("p")))
	f.pub.reset()
	assert.Zero(t, f.o.OnConnectionLost(ctx, conn("p")))
	assert.Zero(t, f.pub.count())
}

func TestDisconnectBatchesRoomList(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	r1, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "one"}, requester("h1"))
	require.NoError(t, err)
	r2, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "two"}, requester("h2"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, r1.Code, "p", profile("p"), conn("p"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, r2.Code, "p", profile("p"), conn("p"))
	require.NoError(t, err)
	f.pub.reset()

	assert.Equal(t, 2, f.o.OnConnectionLost(ctx, conn("p")))
	assert.Len(t, f.pub.ofType(core.EventRoomListUpdated), 1)
	assert.Len(t, f.pub.ofType(core.EventParticipantLeft), 2)
}

func TestEndRoom(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, view.Code, "p", profile("p"), conn("p"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.o.EndRoom(ctx, view.Code, "p"), core.ErrForbidden)
	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOngoing, details.Status)

	assert.ErrorIs(t, f.o.EndRoom(ctx, "zzz-zzzz-zzz", "h"), core.ErrNotFound)

	f.pub.reset()
	require.NoError(t, f.o.EndRoom(ctx, view.Code, "h"))
	ended := f.pub.ofType(core.EventRoomEnded)
	require.Len(t, ended, 1)
	assert.ElementsMatch(t, []core.ConnID{conn("h"), conn("p")}, ended[0].to)
	assert.Equal(t, ReasonHostEnded, ended[0].ev.Data.(RoomEndedData).Reason)
	assert.Empty(t, f.o.ListRooms())

	assert.ErrorIs(t, f.o.EndRoom(ctx, view.Code, "h"), core.ErrInvalidState)
	// members of an ended room are no longer bound to their connections
	assert.Zero(t, f.o.OnConnectionLost(ctx, conn("p")))
}

func TestUpdateParticipantStatus(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)

	_, err = f.o.UpdateParticipantStatus(ctx, view.Code, "h", StatusUpdate{})
	assert.ErrorIs(t, err, core.ErrBadRequest)

	pv, err := f.o.UpdateParticipantStatus(ctx, view.Code, "h", StatusUpdate{IsMuted: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, pv.IsMuted)
	assert.True(t, pv.IsVideoEnabled, "absent fields are left alone")

	pv, err = f.o.UpdateParticipantStatus(ctx, view.Code, "h", StatusUpdate{IsVideoEnabled: boolPtr(false)})
	require.NoError(t, err)
	assert.True(t, pv.IsMuted)
	assert.False(t, pv.IsVideoEnabled)

	assert.Len(t, f.pub.received(conn("h"), core.EventParticipantStatusUpdated), 2)

	_, err = f.o.UpdateParticipantStatus(ctx, view.Code, "ghost", StatusUpdate{IsMuted: boolPtr(true)})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// Host H creates a room, P joins, H produces, H disconnects, P leaves.
func TestHostAndPeerScenario(t *testing.T) {
	f := newFixture(t, nil, Options{CleanupDelay: 20 * time.Millisecond})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "scenario"}, requester("H"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOngoing, view.Status)
	assert.Equal(t, []domain.UserID{"H"}, hosts(view))

	joined, err := f.o.JoinRoom(ctx, view.Code, "P", profile("P"), conn("P"))
	require.NoError(t, err)
	assert.Empty(t, joined.CurrentMedia)
	assert.NotEmpty(t, joined.RTPCapabilities.Codecs)
	pj := f.pub.received(conn("P"), core.EventParticipantJoined)
	require.Len(t, pj, 1)
	assert.Empty(t, pj[0].Data.(ParticipantJoinedData).CurrentMedia)
	assert.Len(t, f.pub.received(conn("H"), core.EventParticipantJoined), 1)

	tr, err := f.o.CreateTransport(ctx, view.Code, "H", core.DirectionSend)
	require.NoError(t, err)
	m, err := f.o.Produce(ctx, view.Code, "H", tr.ID, core.ProduceParams{Kind: core.KindVideo, Tag: "camera"})
	require.NoError(t, err)
	np := f.pub.received(conn("P"), core.EventNewProducerAvailable)
	require.Len(t, np, 1)
	npData := np[0].Data.(ProducerEventData)
	assert.Equal(t, m, npData.ProducerID)
	assert.Equal(t, domain.UserID("H"), npData.Identity)
	assert.Equal(t, "camera", npData.Tag)
	assert.Empty(t, f.pub.received(conn("H"), core.EventNewProducerAvailable))

	assert.Equal(t, 1, f.o.OnConnectionLost(ctx, conn("H")))
	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"P"}, hosts(details))
	assert.Equal(t, domain.UserID("P"), details.CreatedBy)
	ht := f.pub.received(conn("P"), core.EventHostTransferred)
	require.Len(t, ht, 1)
	assert.Equal(t, domain.UserID("P"), ht[0].Data.(HostTransferredData).Host.Identity)
	pc := f.pub.received(conn("P"), core.EventProducerClosed)
	require.Len(t, pc, 1)
	assert.Equal(t, m, pc[0].Data.(ProducerEventData).ProducerID)

	require.NoError(t, f.o.LeaveRoom(ctx, view.Code, "P", conn("P")))
	details, err = f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomEnded, details.Status)
	assert.Empty(t, f.o.ListRooms())

	assert.Eventually(t, func() bool {
		_, err := f.o.RoomDetails(context.Background(), view.Code)
		return errors.Is(err, core.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestPersistenceFailureIsNonFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("database down")).MinTimes(2)

	f := newFixture(t, store, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)
	require.NoError(t, f.o.EndRoom(ctx, view.Code, "h"))

	details, err := f.o.RoomDetails(context.Background(), view.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomEnded, details.Status)
	f.o.Close()
}

func TestCloseArchivesOngoingRoomsAsCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)

	isStatus := func(s domain.RoomStatus) gomock.Matcher {
		return gomock.Cond(func(x any) bool {
			rec, ok := x.(core.RoomRecord)
			return ok && rec.Status == s
		})
	}
	gomock.InOrder(
		store.EXPECT().Upsert(gomock.Any(), isStatus(domain.RoomOngoing)).Return(nil),
		store.EXPECT().Upsert(gomock.Any(), isStatus(domain.RoomCancelled)).DoAndReturn(
			func(_ context.Context, rec core.RoomRecord) error {
				assert.NotNil(t, rec.EndedAt)
				return nil
			}),
	)

	f := newFixture(t, store, Options{})
	_, err := f.o.CreateRoom(context.Background(), CreateRoomRequest{Title: "r"}, requester("h"))
	require.NoError(t, err)

	f.o.Close()
	assert.Eventually(t, f.eng.Routers()[0].Closed, time.Second, 5*time.Millisecond)

	_, err = f.o.CreateRoom(context.Background(), CreateRoomRequest{Title: "late"}, requester("h"))
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRoomDetailsFallsBackToArchive(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	f := newFixture(t, store, Options{CleanupDelay: 10 * time.Millisecond})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "Retro"}, requester("h"))
	require.NoError(t, err)
	ended := time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)
	store.EXPECT().Find(gomock.Any(), view.Code).Return(core.RoomRecord{
		Code:            view.Code,
		Title:           "Retro (archived)",
		CreatedBy:       "h",
		CreatedAt:       view.CreatedAt,
		EndedAt:         &ended,
		Status:          domain.RoomEnded,
		MaxParticipants: view.MaxParticipants,
	}, nil).MinTimes(1)

	require.NoError(t, f.o.EndRoom(ctx, view.Code, "h"))

	var details core.RoomView
	assert.Eventually(t, func() bool {
		details, err = f.o.RoomDetails(ctx, view.Code)
		return err == nil && details.Title == "Retro (archived)"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.RoomEnded, details.Status)
	assert.Equal(t, domain.UserID("h"), details.CreatedBy)
	assert.Zero(t, details.ParticipantCount)
	assert.Empty(t, details.Participants)
}

func TestRoomDetailsArchiveMisses(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	f := newFixture(t, store, Options{})
	ctx := context.Background()

	store.EXPECT().Find(gomock.Any(), domain.RoomCode("abc-defg-hij")).Return(core.RoomRecord{}, core.ErrRecordNotFound)
	_, err := f.o.RoomDetails(ctx, "abc-defg-hij")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// an ongoing record with no live room was never closed out
	store.EXPECT().Find(gomock.Any(), domain.RoomCode("abc-defg-xyz")).Return(core.RoomRecord{Code: "abc-defg-xyz", Status: domain.RoomOngoing}, nil)
	_, err = f.o.RoomDetails(ctx, "abc-defg-xyz")
	assert.ErrorIs(t, err, core.ErrNotFound)

	store.EXPECT().Find(gomock.Any(), domain.RoomCode("abc-defg-err")).Return(core.RoomRecord{}, errors.New("connection refused"))
	_, err = f.o.RoomDetails(ctx, "abc-defg-err")
	require.Error(t, err)
	assert.Equal(t, core.KindUpstream, core.KindOf(err))
}
