package dispatch

import "time"

// Door-open delivery policy: a door open only makes sense for a short
// while, so the entry carries a validity window and a small attempt budget
// with a fixed cooldown instead of exponential backoff.
const (
	DoorWindow      = 1 * time.Minute
	DoorMaxAttempts = 3
	DoorCooldown    = 5 * time.Second
)

// Set holds one dispatcher per command kind. It is constructed once at
// startup and handed by reference to the schedulers and response handlers;
// there are no package-level singletons.
type Set struct {
	// Latest-wins family: only the newest desired value matters.
	SetDevInfo *Latest
	SetDevLock *Latest
	SetTime    *Latest

	// FIFO family: every request is an individual delivery.
	OpenDoor           *Queue
	SetUserInfo        *Queue
	SetUserInfoReplica *Queue
	SetUserName        *Queue
	SetUserNameReplica *Queue
	SetUserLock        *Queue
	DeleteUser         *Queue
	DeleteLock         *Queue
	EnableUser         *Queue
	CleanUser          *Queue
	CleanLog           *Queue
	CleanAdmin         *Queue
	CleanLock          *Queue
	InitSys            *Queue
	Reboot             *Queue
	GetUserList        *Queue
	GetAllLog          *Queue
	GetNewLog          *Queue

	// Gate is the shared exponential-backoff retry gate.
	Gate *RetryGate
}

// NewSet builds the full dispatcher set with the standard policies.
func NewSet() *Set {
	return &Set{
		SetDevInfo: NewLatest(),
		SetDevLock: NewLatest(),
		SetTime:    NewLatest(),

		OpenDoor: NewQueueWithOptions(QueueOptions{
			Window:      DoorWindow,
			MaxAttempts: DoorMaxAttempts,
			Cooldown:    DoorCooldown,
		}),
		SetUserInfo:        NewQueue(),
		SetUserInfoReplica: NewQueue(),
		SetUserName:        NewQueue(),
		SetUserNameReplica: NewQueue(),
		SetUserLock:        NewQueue(),
		DeleteUser:         NewQueue(),
		DeleteLock:         NewQueue(),
		EnableUser:         NewQueue(),
		CleanUser:          NewQueue(),
		CleanLog:           NewQueue(),
		CleanAdmin:         NewQueue(),
		CleanLock:          NewQueue(),
		InitSys:            NewQueue(),
		Reboot:             NewQueue(),
		GetUserList:        NewQueue(),
		GetAllLog:          NewQueue(),
		GetNewLog:          NewQueue(),

		Gate: NewRetryGate(DefaultRetryCap),
	}
}

// Queues returns every FIFO dispatcher in the set, for bulk operations
// like clearing a disconnected device's per-user queues.
func (s *Set) Queues() []*Queue {
	return []*Queue{
		s.OpenDoor,
		s.SetUserInfo, s.SetUserInfoReplica,
		s.SetUserName, s.SetUserNameReplica,
		s.SetUserLock,
		s.DeleteUser, s.DeleteLock, s.EnableUser,
		s.CleanUser, s.CleanLog, s.CleanAdmin, s.CleanLock,
		s.InitSys, s.Reboot,
		s.GetUserList, s.GetAllLog, s.GetNewLog,
	}
}
