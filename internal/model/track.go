package model

// NoteEvent is a single transcribed note reported inline by the worker
type NoteEvent struct {
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
	PitchMidi int     `json:"pitchMidi"`
	PitchName string  `json:"pitchName"`
	Velocity  float64 `json:"velocity"`
}

// TrackRecord is one track of the worker's report. Path fields are relative
// to the job's output directory and are untrusted.
type TrackRecord struct {
	ID         string      `json:"id" validate:"required"`
	Label      string      `json:"label" validate:"required"`
	Audio      *string     `json:"audio"`
	Midi       *string     `json:"midi"`
	MusicXML   *string     `json:"musicxml"`
	Notes      *string     `json:"notes"`
	NoteEvents []NoteEvent `json:"noteEvents,omitempty"`
	Status     *string     `json:"status,omitempty"`
}

// WorkerResult is the JSON document the worker prints on success
type WorkerResult struct {
	JobID  string        `json:"jobId"`
	Tracks []TrackRecord `json:"tracks" validate:"required,dive"`
}

// PublicTrack is a TrackRecord with its paths rewritten to retrieval URLs
type PublicTrack struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Audio      *string     `json:"audio"`
	Midi       *string     `json:"midi"`
	MusicXML   *string     `json:"musicxml"`
	Notes      *string     `json:"notes"`
	NoteEvents []NoteEvent `json:"noteEvents,omitempty"`
	Status     *string     `json:"status,omitempty"`
}

// ProcessResponse is the body returned for a completed job
type ProcessResponse struct {
	JobID         string        `json:"jobId"`
	Tracks        []PublicTrack `json:"tracks"`
	Archive       string        `json:"archive"`
	ArchiveMirror *string       `json:"archiveMirror,omitempty"`
}
