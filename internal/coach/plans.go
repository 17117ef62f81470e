package coach

import (
	"context"
	"errors"
	"net/http"

	"diet-coach/internal/mealplan"
)

// CurrentPlan fetches the user's active plan.
func (c *Client) CurrentPlan(ctx context.Context) (*mealplan.MealPlan, error) {
	return c.plan(ctx, request{method: http.MethodGet, endpoint: "GET /meal-plans/current", path: "/meal-plans/current"})
}

// GeneratePlan creates a plan for a user that has none.
func (c *Client) GeneratePlan(ctx context.Context) (*mealplan.MealPlan, error) {
	return c.plan(ctx, request{method: http.MethodPost, endpoint: "POST /meal-plans", path: "/meal-plans"})
}

// RegeneratePlan replaces the current plan with a freshly generated one.
func (c *Client) RegeneratePlan(ctx context.Context) (*mealplan.MealPlan, error) {
	return c.plan(ctx, request{method: http.MethodPut, endpoint: "PUT /meal-plans", path: "/meal-plans"})
}

// ExtendPlan appends one week to the current plan.
func (c *Client) ExtendPlan(ctx context.Context) (*mealplan.MealPlan, error) {
	return c.plan(ctx, request{method: http.MethodPatch, endpoint: "PATCH /meal-plans/extend", path: "/meal-plans/extend"})
}

// ResetPlan restarts the current plan from week one.
func (c *Client) ResetPlan(ctx context.Context) (*mealplan.MealPlan, error) {
	return c.plan(ctx, request{method: http.MethodPost, endpoint: "POST /meal-plans/reset", path: "/meal-plans/reset"})
}

func (c *Client) plan(ctx context.Context, r request) (*mealplan.MealPlan, error) {
	p, err := do[*mealplan.MealPlan](ctx, c, r)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New(r.endpoint + ": empty plan in response")
	}
	return p, nil
}
