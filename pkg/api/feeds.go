package api

import (
	"context"
	"embed"
	"encoding/json"
	"net/http"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

//go:embed samples/*.json
var samples embed.FS

// Feed is a read-only content list. When the backend call fails and sample
// fallback is enabled, Items holds the bundled samples, Fallback is true and
// Err records why.
type Feed[T any] struct {
	Items    []T
	Fallback bool
	Err      error
}

func fetchFeed[T any](ctx context.Context, c *Client, path, sample string) Feed[T] {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, path, nil, &raw)
	if err == nil {
		items, derr := decodeList[T](raw)
		if derr == nil {
			return Feed[T]{Items: items}
		}
		err = &Error{Status: http.StatusOK, Kind: KindServer, Method: http.MethodGet, Path: path,
			Message: "the server sent a response that could not be read", err: derr}
	}

	if !c.fallback {
		return Feed[T]{Err: err}
	}

	c.log.Warn("content feed unavailable, serving samples", "path", path, "err", err)
	items, serr := loadSample[T](sample)
	if serr != nil {
		c.log.Error("failed to load bundled samples", "sample", sample, "err", serr)
		return Feed[T]{Err: err}
	}
	return Feed[T]{Items: items, Fallback: true, Err: err}
}

func loadSample[T any](name string) ([]T, error) {
	raw, err := samples.ReadFile("samples/" + name)
	if err != nil {
		return nil, err
	}
	return decodeList[T](raw)
}

// Courses lists diploma courses and workshops.
func (c *Client) Courses(ctx context.Context) Feed[models.Course] {
	return fetchFeed[models.Course](ctx, c, pathCourses, "courses.json")
}

func (c *Client) Instructors(ctx context.Context) Feed[models.Instructor] {
	return fetchFeed[models.Instructor](ctx, c, pathInstructors, "instructors.json")
}

func (c *Client) Impacts(ctx context.Context) Feed[models.Impact] {
	return fetchFeed[models.Impact](ctx, c, pathImpacts, "impacts.json")
}

// Feedback lists student testimonials.
func (c *Client) Feedback(ctx context.Context) Feed[models.Testimonial] {
	return fetchFeed[models.Testimonial](ctx, c, pathFeedback, "feedback.json")
}

func (c *Client) OfficeTimings(ctx context.Context) Feed[models.OfficeTiming] {
	return fetchFeed[models.OfficeTiming](ctx, c, pathOfficeTiming, "office-timing.json")
}

// EventPricing lists venue and private event price cards.
func (c *Client) EventPricing(ctx context.Context) Feed[models.EventPricing] {
	return fetchFeed[models.EventPricing](ctx, c, pathEventPricing, "event-pricing.json")
}
