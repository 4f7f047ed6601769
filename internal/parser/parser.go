// Package parser turns the free-form text returned by the inference model
// into a models.FruitAnalysis.
//
// Parsing runs in two passes. The first pass locates every known bold
// heading ("**Wait Time**:" and friends) in the response and sorts them by
// position. The second pass slices the text between consecutive headings and
// assigns each slice to the field owning the preceding heading. A heading the
// model forgot to emit only leaves its own field at the default; neighbouring
// fields still find their boundaries.
package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/franckalain/fruitbeast/internal/models"
)

// Heading labels as they appear in the prompt
const (
	LabelFruitName          = "Fruit Name"
	LabelMainAnalysis       = "Main Analysis"
	LabelMetadata           = "Metadata"
	LabelWaitTime           = "Wait Time"
	LabelShelfPeriod        = "Shelf Period"
	LabelRipenessPercentage = "Ripeness Percentage"
	LabelDetails            = "Details"
	LabelNutrition          = "Nutrition"
	LabelDailyIntake        = "Daily Intake"
	LabelSeasonalInfo       = "Seasonal Info"
	LabelRecipeIdea         = "Recipe Idea"
	LabelGoodToKnow         = "Good to Know"
	LabelNutritionScore     = "Nutrition Score"
)

var labels = []string{
	LabelFruitName,
	LabelMainAnalysis,
	LabelMetadata,
	LabelWaitTime,
	LabelShelfPeriod,
	LabelRipenessPercentage,
	LabelDetails,
	LabelNutritionScore, // before Nutrition so the longer label wins
	LabelNutrition,
	LabelDailyIntake,
	LabelSeasonalInfo,
	LabelRecipeIdea,
	LabelGoodToKnow,
}

var (
	headingRe = regexp.MustCompile(`(?i)-?[ \t]*\*\*[ \t]*(` + labelAlternation() + `)[ \t]*:?[ \t]*\*\*[ \t]*:?`)

	// Leftover "N." list numbering at the end of a captured span.
	trailingNumberRe = regexp.MustCompile(`\s*\d+\.?\s*$`)

	fruitNameRe = regexp.MustCompile(`^[\p{L}\p{N}_ \t'-]+`)
	ripenessRe  = regexp.MustCompile(`(?i)perfectly\s+ripe|unripe|overripe`)
	scoreRe     = regexp.MustCompile(`^\s*(\d+)`)
)

func labelAlternation() string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(l), " ", `\s+`)
	}
	return strings.Join(quoted, "|")
}

// heading is one located heading occurrence
type heading struct {
	label      string
	start, end int
}

// Sections maps each heading label to the text that follows its first
// occurrence, up to the next heading of any label.
type Sections map[string]string

// Split runs the tokenizer pass over text.
func Split(text string) Sections {
	matches := headingRe.FindAllStringSubmatchIndex(text, -1)
	found := make([]heading, 0, len(matches))
	for _, m := range matches {
		found = append(found, heading{
			label: canonicalLabel(text[m[2]:m[3]]),
			start: m[0],
			end:   m[1],
		})
	}
	// FindAll already reports matches in order; keep the sort explicit since
	// span slicing depends on it.
	sort.SliceStable(found, func(i, j int) bool { return found[i].start < found[j].start })

	sections := make(Sections, len(found))
	for i, h := range found {
		if _, seen := sections[h.label]; seen {
			continue
		}
		stop := len(text)
		if i+1 < len(found) {
			stop = found[i+1].start
		}
		sections[h.label] = text[h.end:stop]
	}
	return sections
}

func canonicalLabel(raw string) string {
	norm := strings.Join(strings.Fields(raw), " ")
	for _, l := range labels {
		if strings.EqualFold(l, norm) {
			return l
		}
	}
	return norm
}

// Clean trims a captured span and strips a trailing numbering artifact.
func Clean(s string) string {
	return trailingNumberRe.ReplaceAllString(strings.TrimSpace(s), "")
}

// Parse converts a raw model response into a fully populated analysis. It
// never fails: any section that cannot be found keeps its default value.
func Parse(text string) models.FruitAnalysis {
	result := models.DefaultAnalysis()
	if strings.TrimSpace(text) == "" {
		return result
	}

	sections := Split(text)

	if span, ok := sections[LabelFruitName]; ok {
		name := fruitNameRe.FindString(strings.TrimLeft(span, " \t\r\n"))
		setIfPresent(&result.FruitName, name)
	}

	if span, ok := sections[LabelMainAnalysis]; ok {
		if analysis := Clean(span); analysis != "" {
			result.Analysis = analysis
			// Only the analysis paragraph decides ripeness; recipes and
			// warnings routinely mention "overripe" as well.
			if phrase := ripenessRe.FindString(analysis); phrase != "" {
				result.Ripeness = models.ParseRipeness(strings.Join(strings.Fields(phrase), " "))
			}
		}
	}

	fields := []struct {
		label string
		dst   *string
	}{
		{LabelWaitTime, &result.WaitTime},
		{LabelShelfPeriod, &result.ShelfPeriod},
		{LabelRipenessPercentage, &result.RipenessPercentage},
		{LabelNutrition, &result.Nutrition},
		{LabelDailyIntake, &result.DailyIntake},
		{LabelSeasonalInfo, &result.SeasonalInfo},
		{LabelRecipeIdea, &result.RecipeIdea},
		{LabelGoodToKnow, &result.GoodToKnow},
	}
	for _, f := range fields {
		if span, ok := sections[f.label]; ok {
			setIfPresent(f.dst, span)
		}
	}

	if span, ok := sections[LabelNutritionScore]; ok {
		result.NutritionScore = parseScore(span)
	}

	return result
}

func setIfPresent(dst *string, span string) {
	if v := Clean(span); v != "" {
		*dst = v
	}
}

func parseScore(span string) int {
	m := scoreRe.FindStringSubmatch(span)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return min(n, 100)
}
