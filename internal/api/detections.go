package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Detection is a single identified bird-call event with an associated audio
// clip and metadata.
type Detection struct {
	ID             int64   `json:"id"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	Source         string  `json:"source"`
	ScientificName string  `json:"scientificName"`
	CommonName     string  `json:"commonName"`
	Confidence     float64 `json:"confidence"`
	Verified       string  `json:"verified"`
	Locked         bool    `json:"locked"`
	Comments       string  `json:"comments,omitempty"`
}

// DetectionsPage is one window of the detection listing.
type DetectionsPage struct {
	Data  []Detection `json:"data"`
	Total int         `json:"total"`
}

// ListQuery selects a window of detections. Zero-value fields are omitted
// from the request.
type ListQuery struct {
	// StartDate and EndDate bound the listing, formatted YYYY-MM-DD.
	StartDate string
	EndDate   string

	// NumResults is the page size.
	NumResults int

	// Offset is the index of the first row of the window.
	Offset int
}

// Verdict is a human review decision for a detection.
type Verdict string

const (
	VerdictCorrect       Verdict = "correct"
	VerdictFalsePositive Verdict = "false_positive"
)

// IsValid reports whether v is a recognised verdict.
func (v Verdict) IsValid() bool {
	return v == VerdictCorrect || v == VerdictFalsePositive
}

// ListDetections fetches one page of detections.
func (c *Client) ListDetections(ctx context.Context, q ListQuery) (*DetectionsPage, error) {
	query := url.Values{}
	if q.StartDate != "" {
		query.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		query.Set("end_date", q.EndDate)
	}
	if q.NumResults > 0 {
		query.Set("numResults", strconv.Itoa(q.NumResults))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}

	page := &DetectionsPage{}
	if err := c.do(ctx, http.MethodGet, "/detections", query, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// reviewRequest is the POST body of the review endpoint.
type reviewRequest struct {
	Verified Verdict `json:"verified"`
}

// Review records a human verdict for the detection.
func (c *Client) Review(ctx context.Context, id int64, v Verdict) error {
	if !v.IsValid() {
		return fmt.Errorf("api: verdict %q is invalid; valid values: correct, false_positive", v)
	}
	path := fmt.Sprintf("/detections/%d/review", id)
	return c.do(ctx, http.MethodPost, path, nil, reviewRequest{Verified: v}, nil)
}

// ClipURL returns the audio resource URL for the detection's clip. The
// playback backend streams it directly; no request is made here.
func (c *Client) ClipURL(id int64) string {
	return c.endpoint(fmt.Sprintf("/audio/%d", id))
}
