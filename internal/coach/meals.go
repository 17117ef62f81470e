package coach

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultDishPageSize = 10

// CheckIn confirms a planned meal as eaten.
func (c *Client) CheckIn(ctx context.Context, mealID int64) error {
	_, err := do[struct{}](ctx, c, request{
		method:   http.MethodPost,
		endpoint: "POST /meals/{id}/check-in",
		path:     fmt.Sprintf("/meals/%d/check-in", mealID),
	})
	return err
}

// CheckInWithOverride confirms a planned meal with the food that replaced it.
func (c *Client) CheckInWithOverride(ctx context.Context, o CheckInOverride) error {
	if err := c.check(o); err != nil {
		return err
	}
	r, err := jsonRequest(http.MethodPost, "POST /meals/check-in", "/meals/check-in", o)
	if err != nil {
		return err
	}
	_, err = do[struct{}](ctx, c, r)
	return err
}

// AnalyzeImage asks the backend to recognize the food in a photo.
func (c *Client) AnalyzeImage(ctx context.Context, in ImageAnalysisRequest) (*Analysis, error) {
	if len(in.Image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidPayload)
	}
	filename := in.Filename
	if filename == "" {
		filename = "meal.jpg"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(in.Image); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}
	if in.PlannedMealID != nil {
		if err := w.WriteField("plannedMealId", strconv.FormatInt(*in.PlannedMealID, 10)); err != nil {
			return nil, err
		}
	}
	if in.Category != "" {
		if err := w.WriteField("category", in.Category.Wire()); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return c.analysis(ctx, request{
		method:      http.MethodPost,
		endpoint:    "POST /meals/analyze",
		path:        "/meals/analyze",
		body:        &body,
		contentType: w.FormDataContentType(),
	})
}

// AnalyzeText asks the backend to estimate a meal described in words.
func (c *Client) AnalyzeText(ctx context.Context, in TextAnalysisRequest) (*Analysis, error) {
	in.Text = strings.TrimSpace(in.Text)
	if err := c.check(in); err != nil {
		return nil, err
	}
	r, err := jsonRequest(http.MethodPost, "POST /meals/analyze-text", "/meals/analyze-text", in)
	if err != nil {
		return nil, err
	}
	return c.analysis(ctx, r)
}

func (c *Client) analysis(ctx context.Context, r request) (*Analysis, error) {
	a, err := do[*Analysis](ctx, c, r)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: empty analysis", ErrInvalidPayload)
	}
	if err := c.check(a); err != nil {
		return nil, err
	}
	return a, nil
}

// SearchDishes queries the dish catalog.
func (c *Client) SearchDishes(ctx context.Context, q DishQuery) (*DishPage, error) {
	if q.Size <= 0 {
		q.Size = defaultDishPageSize
	}
	values := url.Values{}
	values.Set("keyword", strings.TrimSpace(q.Keyword))
	if q.Category != "" {
		values.Set("category", q.Category.Wire())
	}
	values.Set("page", strconv.Itoa(q.Page))
	values.Set("size", strconv.Itoa(q.Size))

	page, err := do[*DishPage](ctx, c, request{
		method:   http.MethodGet,
		endpoint: "GET /meals/search-dishes",
		path:     "/meals/search-dishes?" + values.Encode(),
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &DishPage{Page: q.Page, Size: q.Size}
	}
	for i := range page.Dishes {
		page.Dishes[i].Description = plainText(page.Dishes[i].Description)
	}
	return page, nil
}

// plainText flattens an HTML fragment into a single line of text.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("p, div, li, br, h1, h2, h3, h4, tr").AfterHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}
