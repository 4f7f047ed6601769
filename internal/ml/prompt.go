package ml

import "fmt"

// AnalysisPrompt asks for the exact bold sub-headings the parser looks for.
const AnalysisPrompt = `Analyze the fruit in this image.
0.  **Fruit Name**: Identify the fruit in the image.
1.  **Main Analysis**: Provide a one-paragraph analysis. Determine its ripeness (Unripe, Perfectly Ripe, Overripe). If unripe, estimate when it will be best to eat.
2.  **Metadata**: After the main analysis, provide these exact sub-headings and their values:
    - **Wait Time**: Estimated time until ripe. State "Ready to eat" if ripe.
    - **Shelf Period**: Estimated time it will last in its current state.
    - **Ripeness Percentage**: A numerical percentage of ripeness (e.g., 85%).
3.  **Details**: After the metadata, provide the following details using these exact sub-headings:
    - **Nutrition**: Key nutritional benefits.
    - **Daily Intake**: A general recommendation for daily consumption.
    - **Seasonal Info**: When is this fruit typically in season?
    - **Recipe Idea**: A simple recipe idea, like a smoothie or salad, with brief instructions.
    - **Good to Know**: If the fruit is overripe or spoiling, what are the potential health risks? Describe its energy potential.
    - **Nutrition Score**: A number from 0-100.`

// RecipeImagePrompt builds the food-photography prompt for a recipe idea
func RecipeImagePrompt(recipe string) string {
	return fmt.Sprintf("A vibrant, high-quality, appealing photograph of: %s. Food photography style, bright lighting, clean background.", recipe)
}
