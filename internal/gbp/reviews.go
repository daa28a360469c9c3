package gbp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"gwi.com/review-autoreply/internal/core"
)

// Wire types of the v4 reviews resource.
type reviewerJSON struct {
	DisplayName string `json:"displayName"`
	IsAnonymous bool   `json:"isAnonymous"`
}

type replyJSON struct {
	Comment    string `json:"comment"`
	UpdateTime string `json:"updateTime,omitempty"`
}

type reviewJSON struct {
	Name        string       `json:"name"`
	ReviewID    string       `json:"reviewId"`
	Reviewer    reviewerJSON `json:"reviewer"`
	StarRating  string       `json:"starRating"`
	Comment     string       `json:"comment"`
	CreateTime  string       `json:"createTime"`
	UpdateTime  string       `json:"updateTime"`
	ReviewReply *replyJSON   `json:"reviewReply"`
}

type listReviewsResponse struct {
	Reviews          []reviewJSON `json:"reviews"`
	AverageRating    float64      `json:"averageRating"`
	TotalReviewCount int          `json:"totalReviewCount"`
	NextPageToken    string       `json:"nextPageToken"`
}

var starRatings = map[string]int{
	"ONE":   1,
	"TWO":   2,
	"THREE": 3,
	"FOUR":  4,
	"FIVE":  5,
}

// ListReviews returns the newest page of reviews for locationID
// (accounts/{a}/locations/{l}), most recently updated first.
func (c *Client) ListReviews(ctx context.Context, ts oauth2.TokenSource, locationID string, pageSize int) ([]core.Review, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(pageSize))
	query.Set("orderBy", "updateTime desc")
	endpoint := fmt.Sprintf("%s/v4/%s/reviews?%s", c.reviewsBaseURL, locationID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reviews request: %w", err)
	}

	var body listReviewsResponse
	if err := c.do(ctx, ts, req, &body); err != nil {
		return nil, classify("list reviews "+locationID, err)
	}

	reviews := make([]core.Review, 0, len(body.Reviews))
	for _, r := range body.Reviews {
		reviews = append(reviews, toReview(r))
	}
	return reviews, nil
}

// UpsertReply creates or overwrites the owner reply on reviewName.
func (c *Client) UpsertReply(ctx context.Context, ts oauth2.TokenSource, reviewName, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(replyJSON{Comment: text})
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v4/%s/reply", c.reviewsBaseURL, reviewName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return classify("upsert reply "+reviewName, c.do(ctx, ts, req, nil))
}

func (c *Client) do(ctx context.Context, ts oauth2.TokenSource, req *http.Request, out any) error {
	resp, err := c.authorized(ctx, ts).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func toReview(r reviewJSON) core.Review {
	review := core.Review{
		Name:         r.Name,
		ReviewID:     r.ReviewID,
		ReviewerName: r.Reviewer.DisplayName,
		StarRating:   starRatings[r.StarRating],
		Comment:      strings.TrimSpace(r.Comment),
		CreateTime:   parseTime(r.CreateTime),
		UpdateTime:   parseTime(r.UpdateTime),
	}
	if review.ReviewerName == "" || r.Reviewer.IsAnonymous {
		review.ReviewerName = "A Google user"
	}
	if r.ReviewReply != nil {
		review.Reply = &core.ReviewReply{
			Comment:    r.ReviewReply.Comment,
			UpdateTime: parseTime(r.ReviewReply.UpdateTime),
		}
	}
	return review
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
