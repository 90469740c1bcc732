package domain

import (
	"path/filepath"
	"strings"
)

// MediaKind is how a staged file is delivered to the chat.
type MediaKind int

const (
	MediaUnknown MediaKind = iota
	MediaPhoto
	MediaVideo
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}

var mediaByExt = map[string]MediaKind{
	".png":  MediaPhoto,
	".jpg":  MediaPhoto,
	".jpeg": MediaPhoto,
	".gif":  MediaPhoto,
	".mp4":  MediaVideo,
	".mov":  MediaVideo,
	".avi":  MediaVideo,
	".mkv":  MediaVideo,
}

// ClassifyMedia maps a file name to its delivery kind by extension, ignoring case.
func ClassifyMedia(name string) MediaKind {
	return mediaByExt[strings.ToLower(filepath.Ext(name))]
}
