package domain

// Frame type tags, matching the tagged-JSON wire envelope {"t": ..., "payload": ...}.
const (
	// client -> server
	FrameLockAcquire = "LOCK_ACQUIRE"
	FrameCommit      = "COMMIT"
	FrameHeartbeat   = "HEARTBEAT"

	// server -> client
	FrameInitState      = "INIT_STATE"
	FrameUserJoined     = "USER_JOINED"
	FrameUserLeft       = "USER_LEFT"
	FrameLockUpdate     = "LOCK_UPDATE"
	FrameLockDenied     = "LOCK_DENIED"
	FrameCommitApply    = "COMMIT_APPLY"
	FrameCommitRejected = "COMMIT_REJECTED"
)

// WebSocket close codes used when ending a Session.
const (
	CloseNormal          = 1000
	CloseProtocolError   = 1002
	CloseInternalError   = 1011
	CloseQueueOverflow   = 1013
	CloseRoomFull        = 4003
)
