package models

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"strings"
)

const DefaultExtension = "png"

// EncodedImage is an immutable image payload tagged with its media type.
// The zero value is the absent image.
type EncodedImage struct {
	data      []byte
	mediaType string
}

// NewEncodedImage copies data so later writes by the caller are not observed.
func NewEncodedImage(data []byte, mediaType string) EncodedImage {
	return EncodedImage{
		data:      bytes.Clone(data),
		mediaType: strings.TrimSpace(mediaType),
	}
}

// DecodeBase64Image builds an EncodedImage from a base64 payload.
func DecodeBase64Image(payload, mediaType string) (EncodedImage, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return EncodedImage{}, err
	}
	return EncodedImage{data: data, mediaType: strings.TrimSpace(mediaType)}, nil
}

func (i EncodedImage) IsZero() bool {
	return len(i.data) == 0
}

func (i EncodedImage) Len() int {
	return len(i.data)
}

func (i EncodedImage) MediaType() string {
	return i.mediaType
}

// Bytes returns a copy of the payload.
func (i EncodedImage) Bytes() []byte {
	return bytes.Clone(i.data)
}

func (i EncodedImage) Reader() io.Reader {
	return bytes.NewReader(i.data)
}

func (i EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(i.data)
}

func (i EncodedImage) DataURL() string {
	return "data:" + i.mediaType + ";base64," + i.Base64()
}

// Extension returns the media subtype ("image/jpeg" -> "jpeg"), or png when
// the media type carries no subtype.
func (i EncodedImage) Extension() string {
	return ExtensionForMediaType(i.mediaType)
}

func (i EncodedImage) Equal(other EncodedImage) bool {
	return i.mediaType == other.mediaType && bytes.Equal(i.data, other.data)
}

func ExtensionForMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = mediaType
	}
	_, sub, ok := strings.Cut(mt, "/")
	if !ok || sub == "" {
		return DefaultExtension
	}
	if plus := strings.IndexByte(sub, '+'); plus > 0 {
		sub = sub[:plus]
	}
	return sub
}
