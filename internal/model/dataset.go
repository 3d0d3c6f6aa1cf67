package model

// BackupData is the core of an export. Items are kept as generic JSON
// objects so fields added by newer clients survive a round trip.
type BackupData struct {
	Websites   []map[string]any `json:"websites"`
	Categories []map[string]any `json:"categories"`
	Tags       []map[string]any `json:"tags"`
	Settings   map[string]any   `json:"settings"`
}

// Counts returns the number of websites, categories and tags.
func (d BackupData) Counts() (websites, categories, tags int) {
	return len(d.Websites), len(d.Categories), len(d.Tags)
}

// IsEmpty reports whether the dataset has no websites, categories or tags.
func (d BackupData) IsEmpty() bool {
	w, c, t := d.Counts()
	return w == 0 && c == 0 && t == 0
}

type PayloadMeta struct {
	Version    string `json:"version"`
	CreatedAt  int64  `json:"createdAt"`
	AppVersion string `json:"appVersion,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// BackupPayload is the full export envelope uploaded to the server.
type BackupPayload struct {
	Meta PayloadMeta `json:"meta"`
	Data BackupData  `json:"data"`
}
