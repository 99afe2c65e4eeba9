package batch

import "fmt"

// Prompt builds the single user message sent for a product.
func Prompt(description string) string {
	return fmt.Sprintf("Based on this product information: %s\n\n"+
		"Provide a concise recommendation for how to market or improve this product. "+
		"Keep it under 100 words.", description)
}
