package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrItemNotFound indicates the server definitively reports the item does not exist
	ErrItemNotFound = errors.New("library item not found")

	// ErrServerOffline indicates the media server is unreachable
	ErrServerOffline = errors.New("media server is unreachable")

	// ErrAuthFailed indicates authentication failed
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrStorageUnavailable indicates the storage root cannot be accessed
	ErrStorageUnavailable = errors.New("local storage is unavailable")

	// ErrInvalidItemID indicates an item ID that cannot name a storage directory
	ErrInvalidItemID = errors.New("invalid item id")

	// ErrTaskNotFound indicates the requested download task does not exist
	ErrTaskNotFound = errors.New("download task not found")

	// ErrNotInitialized indicates the manager was used before Init
	ErrNotInitialized = errors.New("storage manager is not initialized")
)
