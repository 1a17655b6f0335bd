package gen

import (
	"strings"
	"testing"

	"github.com/voicelane/voicelane/pkg/core/types"
)

func TestGroundingText_FullProduct(t *testing.T) {
	g := types.Grounding{
		StoreID:   "store_42",
		StoreName: "Midtown Market",
		Product: &types.ProductFacts{
			Name:           "Oat Milk",
			Brand:          "Grainful",
			Price:          4.99,
			Stock:          12,
			Ingredients:    "oats, water, sea salt",
			Variants:       []string{"barista", "unsweetened"},
			ComparisonTags: []string{"almond milk", "soy milk"},
			ShelfLocation:  "aisle 4",
		},
	}

	text := GroundingText(g)
	for _, want := range []string{
		"Current product: Oat Milk by Grainful",
		"Price: $4.99",
		"Ingredients: oats, water, sea salt",
		"Location: aisle 4",
		"Stock: 12 units available",
		"Variants: barista, unsweetened",
		"Comparable with: almond milk, soy milk",
		"Store: Midtown Market (store_42)",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("grounding text missing %q:\n%s", want, text)
		}
	}
}

func TestGroundingText_Optional(t *testing.T) {
	minimal := types.Grounding{Product: &types.ProductFacts{Name: "Oat Milk", Brand: "Grainful"}}
	text := GroundingText(minimal)
	if strings.Contains(text, "Ingredients") || strings.Contains(text, "Variants") {
		t.Fatalf("empty optional fields should be omitted:\n%s", text)
	}

	storeOnly := types.Grounding{StoreID: "store_42"}
	if got := GroundingText(storeOnly); got != "Store: store_42" {
		t.Fatalf("store-only grounding = %q", got)
	}

	if got := GroundingText(types.Grounding{}); got != "No specific product context available." {
		t.Fatalf("empty grounding = %q, want placeholder", got)
	}
}

func TestUserMessage(t *testing.T) {
	got := UserMessage("is this gluten free?", types.Grounding{})
	want := "Context:\nNo specific product context available.\n\nCustomer question: is this gluten free?"
	if got != want {
		t.Fatalf("user message = %q, want %q", got, want)
	}
}

func TestHistoryPairs_SkipsIncompleteTurns(t *testing.T) {
	turns := []types.Turn{
		{UserText: "hi", AgentText: "hello, how can I help?"},
		{UserText: "never answered"},
		{AgentText: "orphaned reply"},
		{UserText: "where is the milk?", AgentText: "aisle 4, on your left"},
	}

	pairs := HistoryPairs(turns)
	if len(pairs) != 2 {
		t.Fatalf("pairs len = %d, want 2", len(pairs))
	}
	if pairs[0][0] != "hi" || pairs[1][1] != "aisle 4, on your left" {
		t.Fatalf("pairs = %#v", pairs)
	}
}
