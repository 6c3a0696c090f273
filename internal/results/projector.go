package results

import (
	"fmt"
	"net/url"

	"github.com/makeasinger/stemscore/internal/model"
)

// ArchiveName is the fixed name of the bundle written into each output directory.
const ArchiveName = "results.zip"

// RoutePrefix is where the retrieval endpoint is mounted.
const RoutePrefix = "/api/results/"

// PathParam is the query parameter carrying the relative file path.
const PathParam = "path"

// Projector turns worker-relative paths into retrieval URLs. It does not
// judge path safety; the gateway does that when a URL is used.
type Projector struct {
	baseURL string
}

// NewProjector creates a Projector. baseURL may be empty for host-relative URLs.
func NewProjector(baseURL string) *Projector {
	return &Projector{baseURL: baseURL}
}

// URL builds the retrieval reference for relPath inside jobID's output.
func (p *Projector) URL(jobID, relPath string) string {
	return fmt.Sprintf("%s%s%s?%s=%s", p.baseURL, RoutePrefix, url.PathEscape(jobID), PathParam, url.QueryEscape(relPath))
}

// ArchiveURL is the retrieval reference of the job's archive.
func (p *Projector) ArchiveURL(jobID string) string {
	return p.URL(jobID, ArchiveName)
}

// Project maps every track of result to its public form.
func (p *Projector) Project(jobID string, result *model.WorkerResult) []model.PublicTrack {
	tracks := make([]model.PublicTrack, 0, len(result.Tracks))
	for _, t := range result.Tracks {
		tracks = append(tracks, model.PublicTrack{
			ID:         t.ID,
			Label:      t.Label,
			Audio:      p.ref(jobID, t.Audio),
			Midi:       p.ref(jobID, t.Midi),
			MusicXML:   p.ref(jobID, t.MusicXML),
			Notes:      p.ref(jobID, t.Notes),
			NoteEvents: t.NoteEvents,
			Status:     t.Status,
		})
	}
	return tracks
}

func (p *Projector) ref(jobID string, relPath *string) *string {
	if relPath == nil || *relPath == "" {
		return nil
	}
	u := p.URL(jobID, *relPath)
	return &u
}
