package coach

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"diet-coach/internal/config"
	"diet-coach/internal/mealplan"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("super-secret")

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		CoachAPIURL: server.URL + "/",
		CoachAPIKey: "kid-1:" + hex.EncodeToString(testSecret),
	}
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	return c.ForUser("user-42")
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": success, "message": message, "data": data})
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []Call
}

func (o *recordingObserver) ObserveCall(_ context.Context, call Call) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, call)
}

func TestNewClient(t *testing.T) {
	t.Run("StaticToken", func(t *testing.T) {
		var gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			writeEnvelope(w, http.StatusOK, true, "", nil)
		}))
		defer server.Close()

		c, err := NewClient(&config.Config{CoachAPIURL: server.URL, CoachAPIToken: "static"})
		require.NoError(t, err)
		require.NoError(t, c.CheckIn(context.Background(), 1))
		assert.Equal(t, "Bearer static", gotAuth)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		_, err := NewClient(&config.Config{CoachAPIURL: "http://x", CoachAPIKey: "missing-colon"})
		assert.Error(t, err)

		_, err = NewClient(&config.Config{CoachAPIURL: "http://x", CoachAPIKey: "id:not-hex"})
		assert.Error(t, err)
	})

	t.Run("NoCredentials", func(t *testing.T) {
		_, err := NewClient(&config.Config{CoachAPIURL: "http://x"})
		assert.Error(t, err)
	})
}

func TestClient_CurrentPlan(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/meal-plans/current", r.URL.Path)

		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err, "every request carries a uuid request id")

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
			return testSecret, nil
		}, jwt.WithAudience("diet-coach"))
		if assert.NoError(t, err) {
			assert.Equal(t, "kid-1", token.Header["kid"])
			assert.Equal(t, "user-42", claims.Subject)
		}

		writeEnvelope(w, http.StatusOK, true, "", map[string]any{
			"startDate": "2026-10-05",
			"totalDays": 7,
			"mealPlan": []map[string]any{{
				"day":                  1,
				"meals":                []map[string]any{{"id": 11, "mealName": "Oats", "mealType": "BREAKFAST", "calories": 400, "plannedCalories": 400}},
				"totalCalories":        400,
				"totalPlannedCalories": 400,
			}},
		})
	})

	plan, err := c.CurrentPlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-10-05", plan.StartDate.String())
	require.Len(t, plan.Days, 1)
	assert.Equal(t, mealplan.MealBreakfast, plan.Days[0].Meals[0].MealType)
}

func TestClient_PlanMutations(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		call   func(*Client) (*mealplan.MealPlan, error)
		method string
		path   string
	}{
		{"Generate", func(c *Client) (*mealplan.MealPlan, error) { return c.GeneratePlan(ctx) }, http.MethodPost, "/meal-plans"},
		{"Regenerate", func(c *Client) (*mealplan.MealPlan, error) { return c.RegeneratePlan(ctx) }, http.MethodPut, "/meal-plans"},
		{"Extend", func(c *Client) (*mealplan.MealPlan, error) { return c.ExtendPlan(ctx) }, http.MethodPatch, "/meal-plans/extend"},
		{"Reset", func(c *Client) (*mealplan.MealPlan, error) { return c.ResetPlan(ctx) }, http.MethodPost, "/meal-plans/reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.method, r.Method)
				assert.Equal(t, tt.path, r.URL.Path)
				writeEnvelope(w, http.StatusOK, true, "", map[string]any{"startDate": "2026-10-05", "totalDays": 0, "mealPlan": []any{}})
			})
			plan, err := tt.call(c)
			require.NoError(t, err)
			assert.NotNil(t, plan)
		})
	}
}

func TestClient_Errors(t *testing.T) {
	t.Run("BackendMessageIsKept", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusNotFound, false, "plan not found", nil)
		})

		_, err := c.CurrentPlan(context.Background())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "plan not found", apiErr.Message)
		assert.True(t, IsNotFound(err))
		assert.Equal(t, "plan not found", UserMessage(err))
	})

	t.Run("SuccessFalseWithOKStatus", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, false, "meal already checked in", nil)
		})

		err := c.CheckIn(context.Background(), 11)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "meal already checked in", err.Error())
	})

	t.Run("NetworkFailure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := server.URL
		server.Close()

		c, err := NewClient(&config.Config{CoachAPIURL: url, CoachAPIToken: "t"})
		require.NoError(t, err)

		err = c.CheckIn(context.Background(), 11)
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, networkNotice, UserMessage(err))
	})

	t.Run("MalformedBody", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>gateway</html>"))
		})

		_, err := c.CurrentPlan(context.Background())
		require.Error(t, err)
		assert.Equal(t, genericNotice, UserMessage(err))
	})
}

func TestClient_CheckIn(t *testing.T) {
	var gotPath string
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.CheckIn(context.Background(), 31))
	assert.Equal(t, "/meals/31/check-in", gotPath)
	assert.Empty(t, gotBody)
}

func TestClient_CheckInWithOverride(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meals/check-in", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, http.StatusOK, true, "", nil)
	})

	err := c.CheckInWithOverride(context.Background(), CheckInOverride{
		PlannedMealID:     77,
		FoodName:          "Pancakes",
		EstimatedCalories: 650,
		Type:              mealplan.MealBreakfast,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(77), got["plannedMealId"])
	assert.Equal(t, "Pancakes", got["foodName"])
	assert.Equal(t, "BREAKFAST", got["type"])

	err = c.CheckInWithOverride(context.Background(), CheckInOverride{PlannedMealID: 77, Type: mealplan.MealLunch})
	assert.ErrorIs(t, err, ErrInvalidPayload, "food name is required")
}

func TestClient_AnalyzeImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meals/analyze", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "77", r.FormValue("plannedMealId"))
		assert.Equal(t, "LUNCH", r.FormValue("category"))

		file, header, err := r.FormFile("image")
		if assert.NoError(t, err) {
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "plate.png", header.Filename)
			assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
		}

		writeEnvelope(w, http.StatusOK, true, "", map[string]any{"foodName": "Fried rice", "estimatedCalories": 720})
	})

	planned := int64(77)
	a, err := c.AnalyzeImage(context.Background(), ImageAnalysisRequest{
		Filename:      "plate.png",
		Image:         []byte{0x89, 'P', 'N', 'G'},
		PlannedMealID: &planned,
		Category:      mealplan.MealLunch,
	})
	require.NoError(t, err)
	assert.Equal(t, "Fried rice", a.FoodName)
	assert.Equal(t, 720, a.EstimatedCalories)

	_, err = c.AnalyzeImage(context.Background(), ImageAnalysisRequest{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestClient_AnalyzeText(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "two slices of pizza", body["text"])
			assert.Equal(t, "DINNER", body["category"])
			writeEnvelope(w, http.StatusOK, true, "", map[string]any{
				"foodName": "Pizza", "estimatedCalories": 560,
				"nutritionDetails": map[string]any{"protein": 22},
			})
		})

		a, err := c.AnalyzeText(context.Background(), TextAnalysisRequest{Text: "  two slices of pizza ", Category: mealplan.MealDinner})
		require.NoError(t, err)
		assert.Equal(t, "Pizza", a.FoodName)
		assert.Equal(t, float64(22), a.NutritionDetails["protein"])
	})

	t.Run("EmptyTextIsRejectedLocally", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := c.AnalyzeText(context.Background(), TextAnalysisRequest{Text: "   "})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("InvalidCandidate", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, true, "", map[string]any{"foodName": "", "estimatedCalories": -5})
		})
		_, err := c.AnalyzeText(context.Background(), TextAnalysisRequest{Text: "something"})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestClient_SearchDishes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/meals/search-dishes", r.URL.Path)
		assert.Equal(t, "soup", q.Get("keyword"))
		assert.Equal(t, "DINNER", q.Get("category"))
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "10", q.Get("size"))
		writeEnvelope(w, http.StatusOK, true, "", map[string]any{
			"content": []map[string]any{
				{"id": 5, "name": "Miso soup", "category": "DINNER", "baseCalories": 90, "description": "<p>Light <b>broth</b></p>\n<p>with tofu</p>"},
			},
			"page": 1, "size": 10, "totalElements": 21, "totalPages": 3,
		})
	})

	page, err := c.SearchDishes(context.Background(), DishQuery{Keyword: " soup ", Category: mealplan.MealDinner, Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Dishes, 1)
	assert.Equal(t, "Light broth with tofu", page.Dishes[0].Description)
	assert.True(t, page.HasMore())
}

func TestClient_Observer(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/check-in") {
			writeEnvelope(w, http.StatusBadRequest, false, "future meal", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, true, "", map[string]any{"content": []any{}})
	}, WithObserver(obs))

	_, err := c.SearchDishes(context.Background(), DishQuery{Keyword: "x"})
	require.NoError(t, err)
	err = c.CheckIn(context.Background(), 3)
	require.Error(t, err)

	require.Len(t, obs.calls, 2)
	assert.Equal(t, "GET /meals/search-dishes", obs.calls[0].Endpoint)
	assert.Equal(t, http.StatusOK, obs.calls[0].Status)
	assert.NoError(t, obs.calls[0].Err)
	assert.Equal(t, "POST /meals/{id}/check-in", obs.calls[1].Endpoint)
	assert.Equal(t, http.StatusBadRequest, obs.calls[1].Status)
	var apiErr *APIError
	assert.True(t, errors.As(obs.calls[1].Err, &apiErr))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain text", plainText("  plain \n text "))
	assert.Equal(t, "a b", plainText("<div>a</div><div>b</div>"))
	assert.Equal(t, "", plainText(""))
}
