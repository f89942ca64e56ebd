package offline

import "errors"

var (
	ErrIDRequired          = errors.New("entity id is required")
	ErrUnknownCollection   = errors.New("unknown collection")
	ErrInvalidActionType   = errors.New("invalid queued action type")
	ErrPayloadRequired     = errors.New("queued action payload is required")
	ErrQueueBusy           = errors.New("queue is already processing")
	ErrOffline             = errors.New("network is offline")
	ErrRetriesExhausted    = errors.New("queued action exhausted its retries")
	ErrInstallFailed       = errors.New("worker install failed")
	ErrInvalidTransition   = errors.New("invalid worker lifecycle transition")
	ErrOfflinePageMissing  = errors.New("precache manifest must include the offline page")
	ErrManifestEmpty       = errors.New("precache manifest is empty")
	ErrCrossOriginManifest = errors.New("precache manifest entries must be same-origin")
)
