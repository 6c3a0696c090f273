package model

import "io"

// SourceType discriminates how the input audio is supplied
type SourceType string

const (
	SourceUpload  SourceType = "upload"
	SourceYouTube SourceType = "youtube"
)

// Source is the input of a submission. Exactly one variant is populated:
// Upload+Filename for SourceUpload, URL for SourceYouTube.
type Source struct {
	Type     SourceType
	Upload   io.Reader
	Filename string
	URL      string
}

// SubmitForm holds the text fields of a submission request
type SubmitForm struct {
	SourceType SourceType `validate:"required,oneof=upload youtube"`
	YoutubeURL string     `validate:"required_if=SourceType youtube"`
}
