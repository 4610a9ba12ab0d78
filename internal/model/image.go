package model

import "bytes"

// ImageKind tags the variant held by a ProfileImage.
type ImageKind int

const (
	ImageNone ImageKind = iota
	ImageInline
	ImageURL
)

func (k ImageKind) String() string {
	switch k {
	case ImageInline:
		return "inline"
	case ImageURL:
		return "url"
	default:
		return "none"
	}
}

// ProfileImage holds at most one of inline image bytes or a remote URL.
// The zero value is an absent image.
type ProfileImage struct {
	kind ImageKind
	data []byte
	url  string
}

// NoImage returns an absent image.
func NoImage() ProfileImage { return ProfileImage{} }

// InlineImage wraps raw image bytes. Empty data yields an absent image.
func InlineImage(data []byte) ProfileImage {
	if len(data) == 0 {
		return ProfileImage{}
	}
	return ProfileImage{kind: ImageInline, data: bytes.Clone(data)}
}

// ImageAt references a remote image. An empty URL yields an absent image.
func ImageAt(url string) ProfileImage {
	if url == "" {
		return ProfileImage{}
	}
	return ProfileImage{kind: ImageURL, url: url}
}

// Kind reports which variant is set.
func (i ProfileImage) Kind() ImageKind { return i.kind }

// Data returns the inline bytes, if that is the variant held.
func (i ProfileImage) Data() ([]byte, bool) {
	if i.kind != ImageInline {
		return nil, false
	}
	return i.data, true
}

// URL returns the remote URL, if that is the variant held.
func (i ProfileImage) URL() (string, bool) {
	if i.kind != ImageURL {
		return "", false
	}
	return i.url, true
}

// Equal compares variant and payload.
func (i ProfileImage) Equal(o ProfileImage) bool {
	return i.kind == o.kind && i.url == o.url && bytes.Equal(i.data, o.data)
}

func (i ProfileImage) clone() ProfileImage {
	i.data = bytes.Clone(i.data)
	return i
}
