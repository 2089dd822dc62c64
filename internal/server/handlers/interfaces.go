package handlers

import (
	"net/http"
	"time"
)

// ServerService defines the interface for server operations that handlers need
type ServerService interface {
	// Status and info
	IsRunning() bool
	GetSocketPath() string
	GetPoolDir() string
	GetUptime() time.Duration
	GetBuildID() string
	GetVersion() string

	// Bus state
	ListNodes() []NodeDTO
	ListLinks() []LinkDTO
	EvictNode(idOrName string) error

	// Node connections
	HandleNodeSocket(w http.ResponseWriter, r *http.Request)

	// Server lifecycle
	Stop() error
}

// NodeDTO describes a registered node.
type NodeDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Direction  string    `json:"direction"`
	MediaClass string    `json:"media_class,omitempty"`
	State      string    `json:"state"`
	Link       string    `json:"link,omitempty"`
	Registered time.Time `json:"registered"`
}

// LinkDTO describes a producer/consumer link.
type LinkDTO struct {
	ID         string    `json:"id"`
	Producer   string    `json:"producer"`
	Consumer   string    `json:"consumer"`
	Phase      string    `json:"phase"`
	Format     string    `json:"format,omitempty"`
	Buffers    int       `json:"buffers,omitempty"`
	BufferSize int       `json:"buffer_size,omitempty"`
	Frames     uint64    `json:"frames"`
	Created    time.Time `json:"created"`
}
