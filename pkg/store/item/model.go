package item

import (
	"strconv"
	"time"

	"github.com/marmos91/wopihost/pkg/store"
)

// Item is a document of the primary store. Names are unique per folder.
type Item struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	FolderID  string    `gorm:"not null;default:'';size:255;uniqueIndex:idx_items_folder_name" json:"folder_id"`
	Name      string    `gorm:"not null;size:255;uniqueIndex:idx_items_folder_name" json:"name"`
	Owner     string    `gorm:"size:255" json:"owner,omitempty"`
	MimeType  string    `gorm:"size:255" json:"mime_type"`
	Size      int64     `gorm:"not null;default:0" json:"size"`
	Revision  int64     `gorm:"not null;default:1" json:"revision"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Item.
func (Item) TableName() string {
	return "items"
}

// Version is the opaque version string exposed to WOPI clients.
func (i *Item) Version() string {
	return strconv.FormatInt(i.Revision, 10)
}

// Ref returns the store reference of the item.
func (i *Item) Ref() store.ResourceRef {
	return store.ItemRef(i.ID)
}

func (i *Item) stat() *store.FileStat {
	return &store.FileStat{
		Name:     i.Name,
		Size:     i.Size,
		Version:  i.Version(),
		MimeType: i.MimeType,
		ModTime:  i.UpdatedAt.UTC(),
		Owner:    i.Owner,
	}
}
