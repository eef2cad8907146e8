package models

// DirEntry is one item inside a browsed directory.
type DirEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size,omitempty"`
}

// DirListing is the browse response for one directory. Parent is empty at
// the filesystem root.
type DirListing struct {
	Path    string     `json:"path"`
	Parent  string     `json:"parent,omitempty"`
	Entries []DirEntry `json:"entries"`
}

// DiskUsage describes the volume behind a local path.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"totalBytes"`
	UsedBytes   uint64  `json:"usedBytes"`
	FreeBytes   uint64  `json:"freeBytes"`
	UsedPercent float64 `json:"usedPercent"`
	TotalHuman  string  `json:"totalHuman"`
	FreeHuman   string  `json:"freeHuman"`
}
