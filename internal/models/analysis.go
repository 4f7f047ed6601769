package models

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Ripeness is the ripeness category assigned to an analyzed fruit
type Ripeness string

const (
	RipenessUnknown       Ripeness = "Unknown"
	RipenessUnripe        Ripeness = "Unripe"
	RipenessPerfectlyRipe Ripeness = "Perfectly Ripe"
	RipenessOverripe      Ripeness = "Overripe"
)

// ParseRipeness maps a ripeness phrase in any letter case to its category.
// Unrecognized phrases map to RipenessUnknown.
func ParseRipeness(s string) Ripeness {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unripe":
		return RipenessUnripe
	case "perfectly ripe":
		return RipenessPerfectlyRipe
	case "overripe":
		return RipenessOverripe
	default:
		return RipenessUnknown
	}
}

// Default field values used whenever the model response lacks a section
const (
	DefaultFruitName    = "Fruit"
	DefaultAnalysisText = "No analysis provided."
	DefaultNutrition    = "No nutrition details provided."
	DefaultDailyIntake  = "No intake recommendation provided."
	DefaultSeasonalInfo = "No seasonal information provided."
	DefaultRecipeIdea   = "No recipe idea provided."
	DefaultGoodToKnow   = "No information provided."
	DefaultNotAvailable = "N/A"
)

// FruitAnalysis is the structured form of one model response about a fruit photo
type FruitAnalysis struct {
	FruitName          string   `json:"fruitName"`
	Analysis           string   `json:"analysis"`
	Ripeness           Ripeness `json:"ripeness"`
	WaitTime           string   `json:"waitTime"`
	ShelfPeriod        string   `json:"shelfPeriod"`
	RipenessPercentage string   `json:"ripenessPercentage"`
	Nutrition          string   `json:"nutrition"`
	DailyIntake        string   `json:"dailyIntake"`
	SeasonalInfo       string   `json:"seasonalInfo"`
	RecipeIdea         string   `json:"recipeIdea"`
	GoodToKnow         string   `json:"goodToKnow"`
	NutritionScore     int      `json:"nutritionScore"` // 0-100
}

// DefaultAnalysis returns a record with every field at its fallback value
func DefaultAnalysis() FruitAnalysis {
	return FruitAnalysis{
		FruitName:          DefaultFruitName,
		Analysis:           DefaultAnalysisText,
		Ripeness:           RipenessUnknown,
		WaitTime:           DefaultNotAvailable,
		ShelfPeriod:        DefaultNotAvailable,
		RipenessPercentage: DefaultNotAvailable,
		Nutrition:          DefaultNutrition,
		DailyIntake:        DefaultDailyIntake,
		SeasonalInfo:       DefaultSeasonalInfo,
		RecipeIdea:         DefaultRecipeIdea,
		GoodToKnow:         DefaultGoodToKnow,
		NutritionScore:     0,
	}
}

// HasRecipeIdea reports whether the model supplied a recipe to illustrate
func (a *FruitAnalysis) HasRecipeIdea() bool {
	return a != nil && a.RecipeIdea != "" && a.RecipeIdea != DefaultRecipeIdea
}

// Image is an uploaded photo or a generated illustration
type Image struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// DataURL renders the image as a data: URL suitable for an <img> tag
func (i *Image) DataURL() string {
	if i == nil || len(i.Data) == 0 {
		return ""
	}
	mime := i.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(i.Data))
}
