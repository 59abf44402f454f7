package content

// FileInfo is the CheckFileInfo response body. Field names are the WOPI
// property names.
type FileInfo struct {
	BaseFileName     string `json:"BaseFileName"`
	OwnerId          string `json:"OwnerId"`
	Size             int64  `json:"Size"`
	UserId           string `json:"UserId"`
	UserFriendlyName string `json:"UserFriendlyName"`
	Version          string `json:"Version"`
	LastModifiedTime string `json:"LastModifiedTime"`
	FileExtension    string `json:"FileExtension,omitempty"`
	IsAnonymousUser  bool   `json:"IsAnonymousUser"`

	UserCanWrite            bool `json:"UserCanWrite"`
	UserCanRename           bool `json:"UserCanRename"`
	ReadOnly                bool `json:"ReadOnly"`
	UserCanNotWriteRelative bool `json:"UserCanNotWriteRelative"`

	SupportsLocks      bool `json:"SupportsLocks"`
	SupportsGetLock    bool `json:"SupportsGetLock"`
	SupportsRename     bool `json:"SupportsRename"`
	SupportsUpdate     bool `json:"SupportsUpdate"`
	SupportsDeleteFile bool `json:"SupportsDeleteFile"`

	SupportsCobalt         bool `json:"SupportsCobalt"`
	SupportsContainers     bool `json:"SupportsContainers"`
	SupportsEcosystem      bool `json:"SupportsEcosystem"`
	SupportsGetFileWopiSrc bool `json:"SupportsGetFileWopiSrc"`
	SupportsUserInfo       bool `json:"SupportsUserInfo"`

	PostMessageOrigin string `json:"PostMessageOrigin,omitempty"`
}

// AnonymousUser is the UserId reported for tokens issued without a user.
const AnonymousUser = "anonymous"

func newFileInfo() *FileInfo {
	return &FileInfo{
		UserCanNotWriteRelative: true,

		SupportsLocks:      true,
		SupportsGetLock:    true,
		SupportsRename:     true,
		SupportsUpdate:     true,
		SupportsDeleteFile: true,
	}
}
