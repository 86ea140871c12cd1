package model

import (
	"fmt"
	"time"
)

// AssetStatus tracks where an asset is in the direct-to-storage upload lifecycle.
type AssetStatus string

const (
	AssetStatusPendingUpload AssetStatus = "pending_upload"
	AssetStatusUploading     AssetStatus = "uploading"
	AssetStatusUploaded      AssetStatus = "uploaded"
	AssetStatusFailed        AssetStatus = "failed"
	AssetStatusDeleted       AssetStatus = "deleted"
)

// OpenStatuses are the states an in-flight upload may occupy. Only confirm and
// the sweeper may move an asset out of this set.
var OpenStatuses = []AssetStatus{AssetStatusPendingUpload, AssetStatusUploading}

// transitions is the single source of truth for status legality. Failed and
// deleted are absorbing; a retried upload gets a fresh asset id instead.
var transitions = map[AssetStatus][]AssetStatus{
	AssetStatusPendingUpload: {AssetStatusUploading, AssetStatusUploaded, AssetStatusFailed},
	AssetStatusUploading:     {AssetStatusUploaded, AssetStatusFailed},
	AssetStatusUploaded:      {AssetStatusDeleted},
	AssetStatusFailed:        {AssetStatusDeleted},
	AssetStatusDeleted:       {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to AssetStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether the status is still in the in-flight set.
func (s AssetStatus) IsOpen() bool {
	return s == AssetStatusPendingUpload || s == AssetStatusUploading
}

type Asset struct {
	ID           string      `db:"id"`
	WorkspaceID  string      `db:"workspace_id"`
	Name         string      `db:"name"` // Display name as uploaded by the client
	MimeType     string      `db:"mime_type"`
	Size         int64       `db:"size"` // Declared size in bytes, verified at confirm
	StoragePath  string      `db:"storage_path"`
	Checksum     *string     `db:"checksum"` // Set once the upload is confirmed
	Status       AssetStatus `db:"storage_status"`
	UploadedBy   string      `db:"uploaded_by"`
	ErrorMessage *string     `db:"error_message"` // Populated only when status = failed
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

// AssetStoragePath returns the object key for an asset. Assigned at prepare
// time and never changed afterward.
func AssetStoragePath(workspaceID, assetID, filename string) string {
	return fmt.Sprintf("workspaces/%s/assets/%s/%s", workspaceID, assetID, filename)
}
