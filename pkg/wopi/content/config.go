package content

import (
	"github.com/marmos91/wopihost/internal/bytesize"
	"github.com/marmos91/wopihost/pkg/bufpool"
)

// DefaultChunkSize is the default streaming chunk (1 MiB).
const DefaultChunkSize = bytesize.ByteSize(bufpool.DefaultChunkSize)

// Config configures the content gateway.
type Config struct {
	// ChunkSize bounds the memory one PutFile or GetFile stream holds.
	// Default: 1MiB
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// PostMessageOrigin is echoed in CheckFileInfo so the editor frame
	// may post messages to the embedding page. Empty omits it.
	PostMessageOrigin string `mapstructure:"post_message_origin" yaml:"post_message_origin,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
}
