package gen

import (
	"fmt"
	"strings"

	"github.com/voicelane/voicelane/pkg/core/types"
)

// SystemPrompt frames every generation request. Providers send it as the
// system message (or equivalent) ahead of the conversation.
const SystemPrompt = `You are a helpful retail assistant in a physical store.
Answer customer questions about products, availability, comparisons, and store navigation.
Keep responses concise and friendly. If you don't have specific information, say so politely.`

// GroundingText renders the store and product facts as plain context lines
// for the model. Returns a fixed placeholder when nothing is grounded so
// the model never invents product details.
func GroundingText(g types.Grounding) string {
	var lines []string
	if p := g.Product; p != nil {
		lines = append(lines, fmt.Sprintf("Current product: %s by %s", p.Name, p.Brand))
		lines = append(lines, fmt.Sprintf("Price: $%.2f", p.Price))
		if p.Ingredients != "" {
			lines = append(lines, "Ingredients: "+p.Ingredients)
		}
		if p.ShelfLocation != "" {
			lines = append(lines, "Location: "+p.ShelfLocation)
		}
		lines = append(lines, fmt.Sprintf("Stock: %d units available", p.Stock))
		if len(p.Variants) > 0 {
			lines = append(lines, "Variants: "+strings.Join(p.Variants, ", "))
		}
		if len(p.ComparisonTags) > 0 {
			lines = append(lines, "Comparable with: "+strings.Join(p.ComparisonTags, ", "))
		}
	}
	if g.StoreID != "" {
		store := g.StoreID
		if g.StoreName != "" {
			store = fmt.Sprintf("%s (%s)", g.StoreName, g.StoreID)
		}
		lines = append(lines, "Store: "+store)
	}
	if len(lines) == 0 {
		return "No specific product context available."
	}
	return strings.Join(lines, "\n")
}

// UserMessage combines the grounding block and the customer's question into
// the final user-role message.
func UserMessage(utterance string, g types.Grounding) string {
	return fmt.Sprintf("Context:\n%s\n\nCustomer question: %s", GroundingText(g), utterance)
}

// HistoryPairs flattens committed turns into alternating (user, agent) text
// pairs, skipping turns that never produced agent text.
func HistoryPairs(turns []types.Turn) [][2]string {
	pairs := make([][2]string, 0, len(turns))
	for _, t := range turns {
		if t.UserText == "" || t.AgentText == "" {
			continue
		}
		pairs = append(pairs, [2]string{t.UserText, t.AgentText})
	}
	return pairs
}
