package websocket

import "github.com/dukerupert/navsync/internal/model"

// BackupNotifier forwards backup record changes to the owning user's
// connected clients.
type BackupNotifier struct {
	Hub *Hub
}

func (n BackupNotifier) BackupCreated(r model.BackupRecord) {
	n.Hub.BroadcastToUser(r.UserID, NewMessage("backup", "created", r.ID, map[string]any{
		"type":       r.Type,
		"name":       r.Name,
		"file_hash":  r.FileHash,
		"size":       r.Size,
		"created_at": r.CreatedAt,
	}))
}

// BackupDeleted sends "backup_deleted" or "backup_evicted" depending on reason.
func (n BackupNotifier) BackupDeleted(r model.BackupRecord, reason string) {
	n.Hub.BroadcastToUser(r.UserID, NewMessage("backup", reason, r.ID, map[string]any{
		"type": r.Type,
	}))
}
