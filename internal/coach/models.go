package coach

import "diet-coach/internal/mealplan"

// Analysis is the food candidate returned by image or text analysis.
type Analysis struct {
	FoodName          string         `json:"foodName" validate:"required"`
	EstimatedCalories int            `json:"estimatedCalories" validate:"gte=0"`
	NutritionDetails  map[string]any `json:"nutritionDetails,omitempty"`
}

// ImageAnalysisRequest carries a photo of the meal that was actually eaten.
type ImageAnalysisRequest struct {
	Filename      string
	Image         []byte
	PlannedMealID *int64
	Category      mealplan.MealType
}

// TextAnalysisRequest describes the eaten meal in free text.
type TextAnalysisRequest struct {
	Text          string            `json:"text" validate:"required"`
	PlannedMealID *int64            `json:"plannedMealId,omitempty"`
	Category      mealplan.MealType `json:"category,omitempty"`
}

// CheckInOverride confirms a planned meal with the food that replaced it.
type CheckInOverride struct {
	PlannedMealID     int64             `json:"plannedMealId" validate:"required"`
	FoodName          string            `json:"foodName" validate:"required"`
	EstimatedCalories int               `json:"estimatedCalories" validate:"gte=0"`
	Type              mealplan.MealType `json:"type" validate:"required"`
	NutritionDetails  map[string]any    `json:"nutritionDetails,omitempty"`
}

// Dish is a catalog entry.
type Dish struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	BaseCalories int    `json:"baseCalories"`
	Description  string `json:"description"`
}

// DishQuery filters the dish catalog. Page is 0-based.
type DishQuery struct {
	Keyword  string
	Category mealplan.MealType
	Page     int
	Size     int
}

// DishPage is one page of catalog results.
type DishPage struct {
	Dishes        []Dish `json:"content"`
	Page          int    `json:"page"`
	Size          int    `json:"size"`
	TotalElements int    `json:"totalElements"`
	TotalPages    int    `json:"totalPages"`
}

// HasMore reports whether another page follows this one.
func (p *DishPage) HasMore() bool {
	return p.Page+1 < p.TotalPages
}
