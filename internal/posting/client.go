package posting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const commentThreadsInsertURL = "https://www.googleapis.com/youtube/v3/commentThreads?part=snippet"
const videosRateURL = "https://www.googleapis.com/youtube/v3/videos/rate"

// UpstreamClient posts a comment via the upstream commentThreads.insert
// endpoint: a bare top-level comment when parentID is empty, a reply
// otherwise. It implements Poster.
type UpstreamClient struct{}

type commentThreadRequest struct {
	Snippet commentThreadSnippet `json:"snippet"`
}

type commentThreadSnippet struct {
	VideoID         string                `json:"videoId,omitempty"`
	ParentID        string                `json:"parentId,omitempty"`
	TopLevelComment *topLevelCommentField `json:"topLevelComment,omitempty"`
	TextOriginal    string                `json:"textOriginal,omitempty"`
}

type topLevelCommentField struct {
	Snippet struct {
		TextOriginal string `json:"textOriginal"`
	} `json:"snippet"`
}

type commentThreadResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
		Message string `json:"message"`
	} `json:"error"`
}

// PostComment implements Poster.
func (UpstreamClient) PostComment(ctx context.Context, client *http.Client, accessToken, videoID, parentID, content string) (string, error) {
	return postCommentTo(ctx, client, commentThreadsInsertURL, accessToken, videoID, parentID, content)
}

type videoRateResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// LikeVideo issues the upstream platform's videos.rate call, the
// auto-like step the View Scheduler's simulate-view consumer performs
// after a simulated watch.
func (UpstreamClient) LikeVideo(ctx context.Context, client *http.Client, accessToken, videoID string) error {
	url := fmt.Sprintf("%s?id=%s&rating=like", videosRateURL, videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("building like request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("liking video %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var parsed videoRateResponse
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil {
			return fmt.Errorf("upstream rejected like: %s", parsed.Error.Message)
		}
		return fmt.Errorf("upstream returned status %d for like on video %s", resp.StatusCode, videoID)
	}
	return nil
}

func postCommentTo(ctx context.Context, client *http.Client, endpoint, accessToken, videoID, parentID, content string) (string, error) {
	var snippet commentThreadSnippet
	if parentID != "" {
		snippet = commentThreadSnippet{ParentID: parentID, TextOriginal: content}
	} else {
		tlc := &topLevelCommentField{}
		tlc.Snippet.TextOriginal = content
		snippet = commentThreadSnippet{VideoID: videoID, TopLevelComment: tlc}
	}

	body, err := json.Marshal(commentThreadRequest{Snippet: snippet})
	if err != nil {
		return "", fmt.Errorf("marshaling comment body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building comment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting comment: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading comment response: %w", err)
	}

	var parsed commentThreadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parsing comment response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.Error != nil {
		if parsed.Error != nil {
			return "", fmt.Errorf("upstream rejected comment: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	if parsed.ID == "" {
		return "", fmt.Errorf("upstream accepted request but returned no comment id")
	}

	return parsed.ID, nil
}
