package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/fruitbeast/internal/models"
)

const fullResponse = `0.  **Fruit Name**: Banana
1.  **Main Analysis**: This banana has a uniform yellow peel with a few small brown
freckles, which means it is perfectly ripe and sweet right now.
2.  **Metadata**:
    - **Wait Time**: Ready to eat
    - **Shelf Period**: 2-3 days at room temperature
    - **Ripeness Percentage**: 85%
3.  **Details**:
    - **Nutrition**: Rich in potassium, vitamin B6 and fiber.
    - **Daily Intake**: One to two bananas per day.
    - **Seasonal Info**: Available year-round.
    - **Recipe Idea**: Banana oat smoothie: blend one banana with oats and milk.
    - **Good to Know**: Overripe bananas are great for baking but spike blood sugar faster.
    - **Nutrition Score**: 78`

func TestParse_FullResponse(t *testing.T) {
	got := Parse(fullResponse)

	assert.Equal(t, "Banana", got.FruitName)
	assert.Contains(t, got.Analysis, "uniform yellow peel")
	assert.Equal(t, models.RipenessPerfectlyRipe, got.Ripeness)
	assert.Equal(t, "Ready to eat", got.WaitTime)
	assert.Equal(t, "2-3 days at room temperature", got.ShelfPeriod)
	assert.Equal(t, "85%", got.RipenessPercentage)
	assert.Equal(t, "Rich in potassium, vitamin B6 and fiber.", got.Nutrition)
	assert.Equal(t, "One to two bananas per day.", got.DailyIntake)
	assert.Equal(t, "Available year-round.", got.SeasonalInfo)
	assert.Equal(t, "Banana oat smoothie: blend one banana with oats and milk.", got.RecipeIdea)
	assert.Contains(t, got.GoodToKnow, "great for baking")
	assert.Equal(t, 78, got.NutritionScore)

	def := models.DefaultAnalysis()
	assert.NotEqual(t, def.FruitName, got.FruitName)
	assert.NotEqual(t, def.Analysis, got.Analysis)
	assert.NotEqual(t, def.Ripeness, got.Ripeness)
	assert.NotEqual(t, def.WaitTime, got.WaitTime)
	assert.NotEqual(t, def.ShelfPeriod, got.ShelfPeriod)
	assert.NotEqual(t, def.RipenessPercentage, got.RipenessPercentage)
	assert.NotEqual(t, def.Nutrition, got.Nutrition)
	assert.NotEqual(t, def.DailyIntake, got.DailyIntake)
	assert.NotEqual(t, def.SeasonalInfo, got.SeasonalInfo)
	assert.NotEqual(t, def.RecipeIdea, got.RecipeIdea)
	assert.NotEqual(t, def.GoodToKnow, got.GoodToKnow)
}

func TestParse_EmptyInput(t *testing.T) {
	assert.Equal(t, models.DefaultAnalysis(), Parse(""))
	assert.Equal(t, models.DefaultAnalysis(), Parse("   \n\t"))
}

func TestParse_NoHeadings(t *testing.T) {
	assert.Equal(t, models.DefaultAnalysis(), Parse("I could not find a fruit in this picture."))
}

func TestParse_MangoExample(t *testing.T) {
	input := "**Fruit Name**: Mango\n" +
		"**Main Analysis**: The skin is wrinkled with dark patches, so this mango is overripe.\n" +
		"**Metadata**\n" +
		"- **Wait Time**: Ready to eat\n" +
		"- **Shelf Period**: 1 day\n" +
		"- **Ripeness Percentage**: 95%\n" +
		"**Details**\n" +
		"- **Nutrition**: High in vitamin C\n" +
		"- **Nutrition Score**: 72"

	got := Parse(input)
	assert.Equal(t, "Mango", got.FruitName)
	assert.Equal(t, models.RipenessOverripe, got.Ripeness)
	assert.Equal(t, "Ready to eat", got.WaitTime)
	assert.Equal(t, "1 day", got.ShelfPeriod)
	assert.Equal(t, "95%", got.RipenessPercentage)
	assert.Equal(t, "High in vitamin C", got.Nutrition)
	assert.Equal(t, 72, got.NutritionScore)
	assert.Equal(t, models.DefaultDailyIntake, got.DailyIntake)
}

func TestParse_Ripeness(t *testing.T) {
	tests := []struct {
		name     string
		analysis string
		want     models.Ripeness
	}{
		{"unripe", "The peel is still green; it is UNRIPE.", models.RipenessUnripe},
		{"perfectly ripe", "It looks Perfectly Ripe to me.", models.RipenessPerfectlyRipe},
		{"perfectly ripe with extra space", "It is perfectly  ripe.", models.RipenessPerfectlyRipe},
		{"overripe", "Brown spots everywhere, overripe.", models.RipenessOverripe},
		{"first match wins", "Not unripe any more, arguably overripe.", models.RipenessUnripe},
		{"no keyword", "A lovely pear.", models.RipenessUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse("**Main Analysis**: " + tt.analysis + "\n**Metadata**")
			assert.Equal(t, tt.want, got.Ripeness)
		})
	}
}

func TestParse_RipenessOnlyFromMainAnalysis(t *testing.T) {
	input := "**Fruit Name**: Apple\n" +
		"**Main Analysis**: A crisp red apple with firm flesh.\n" +
		"**Metadata**\n" +
		"- **Recipe Idea**: Use overripe apples for apple sauce.\n" +
		"- **Good to Know**: Unripe apples can upset your stomach."

	got := Parse(input)
	assert.Equal(t, models.RipenessUnknown, got.Ripeness)
	assert.Equal(t, "Use overripe apples for apple sauce.", got.RecipeIdea)
}

func TestParse_MissingHeadingDoesNotCorruptNeighbours(t *testing.T) {
	// Shelf Period is absent: Wait Time must stop at Ripeness Percentage and
	// Ripeness Percentage must still be found.
	input := "**Main Analysis**: Green and hard, unripe.\n" +
		"- **Wait Time**: 3 days\n" +
		"- **Ripeness Percentage**: 40%\n" +
		"- **Nutrition**: Vitamin C\n"

	got := Parse(input)
	assert.Equal(t, "3 days", got.WaitTime)
	assert.Equal(t, models.DefaultNotAvailable, got.ShelfPeriod)
	assert.Equal(t, "40%", got.RipenessPercentage)
	assert.Equal(t, "Vitamin C", got.Nutrition)
}

func TestParse_ReorderedHeadings(t *testing.T) {
	input := "- **Shelf Period**: 5 days\n- **Wait Time**: 2 days\n"

	got := Parse(input)
	assert.Equal(t, "2 days", got.WaitTime)
	assert.Equal(t, "5 days", got.ShelfPeriod)
}

func TestParse_NutritionScore(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"plain", "**Nutrition Score**: 64", 64},
		{"surrounding whitespace", "- **Nutrition Score**:   \n  91  \n", 91},
		{"colon inside bold", "**Nutrition Score:** 55", 55},
		{"out of ten suffix", "**Nutrition Score**: 80/100", 80},
		{"not a number", "**Nutrition Score**: high", 0},
		{"above range clamps", "**Nutrition Score**: 140", 100},
		{"missing", "**Nutrition**: lots", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input).NutritionScore)
		})
	}
}

func TestParse_NutritionNotConfusedWithScore(t *testing.T) {
	got := Parse("- **Nutrition Score**: 50\n- **Nutrition**: Fiber and folate")
	assert.Equal(t, "Fiber and folate", got.Nutrition)
	assert.Equal(t, 50, got.NutritionScore)
}

func TestParse_FruitNameStopsAtPunctuation(t *testing.T) {
	got := Parse("**Fruit Name**: Granny Smith apple (green)\n1. **Main Analysis**: fine")
	assert.Equal(t, "Granny Smith apple", got.FruitName)
}

func TestParse_EmptySectionKeepsDefault(t *testing.T) {
	got := Parse("- **Wait Time**: \n- **Shelf Period**: 4")
	assert.Equal(t, models.DefaultNotAvailable, got.WaitTime)
	// a lone number is indistinguishable from list numbering
	assert.Equal(t, models.DefaultNotAvailable, got.ShelfPeriod)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Mango", Clean("  Mango\n1.  "))
	assert.Equal(t, "Ready to eat", Clean("Ready to eat\n\n3."))
	assert.Equal(t, "85%", Clean("85%"))
	assert.Equal(t, "", Clean("   "))
}

func TestSplit_FirstOccurrenceWins(t *testing.T) {
	sections := Split("**Nutrition**: first\n**Daily Intake**: x\n**Nutrition**: second")
	require.Contains(t, sections, LabelNutrition)
	assert.Equal(t, "first", Clean(sections[LabelNutrition]))
	assert.Equal(t, "x", Clean(sections[LabelDailyIntake]))
}

func TestSplit_CaseInsensitiveLabels(t *testing.T) {
	sections := Split("**wait time**: soon\n**GOOD TO KNOW**: tasty")
	assert.Equal(t, "soon", Clean(sections[LabelWaitTime]))
	assert.Equal(t, "tasty", Clean(sections[LabelGoodToKnow]))
}
