package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// YouTubeStreamer resolves a YouTube watch URL to its highest-bitrate
// audio-only format and opens that stream.
type YouTubeStreamer struct {
	client *youtube.Client
}

// NewYouTubeStreamer creates a streamer. httpClient may be nil.
func NewYouTubeStreamer(httpClient *http.Client) *YouTubeStreamer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YouTubeStreamer{
		client: &youtube.Client{HTTPClient: httpClient},
	}
}

// OpenAudio implements Streamer.
func (s *YouTubeStreamer) OpenAudio(ctx context.Context, rawURL string) (io.ReadCloser, int64, string, error) {
	video, err := s.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, 0, "", fmt.Errorf("resolve video: %w", err)
	}

	var best *youtube.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	if best == nil {
		return nil, 0, "", errors.New("no audio-only stream available")
	}

	stream, size, err := s.client.GetStreamContext(ctx, video, best)
	if err != nil {
		return nil, 0, "", fmt.Errorf("open stream: %w", err)
	}
	if size <= 0 {
		size = -1
	}
	return stream, size, extensionFor(best.MimeType), nil
}

func extensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ".audio"
	}
	switch mediaType {
	case "audio/webm":
		return ".webm"
	case "audio/mp4":
		return ".m4a"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".audio"
	}
}
