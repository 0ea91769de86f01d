package plaidsync

import (
	"context"
	"fmt"
	"strings"

	"budgeteer-server/src/models"
)

// CategoryResolver picks the local category for an imported transaction:
// a category whose name contains the label, then "Uncategorized", then the
// user's lowest-id category. It never creates categories.
type CategoryResolver struct {
	lookup CategoryLookup
	cache  map[string]*int64
}

func NewCategoryResolver(lookup CategoryLookup) *CategoryResolver {
	return &CategoryResolver{
		lookup: lookup,
		cache:  make(map[string]*int64),
	}
}

// Resolve returns the category id for label, or nil if the user has no categories.
func (r *CategoryResolver) Resolve(ctx context.Context, userID int64, label string) (*int64, error) {
	if label == "" {
		label = models.UncategorizedName
	}

	key := fmt.Sprintf("%d|%s", userID, strings.ToLower(label))
	if id, ok := r.cache[key]; ok {
		return id, nil
	}

	steps := []func() (*models.Category, error){
		func() (*models.Category, error) { return r.lookup.FindCategoryByNameContains(ctx, userID, label) },
		func() (*models.Category, error) {
			return r.lookup.FindCategoryByName(ctx, userID, models.UncategorizedName)
		},
		func() (*models.Category, error) { return r.lookup.FirstCategory(ctx, userID) },
	}

	var id *int64
	for _, step := range steps {
		category, err := step()
		if err != nil {
			return nil, fmt.Errorf("resolve category %q: %w", label, err)
		}
		if category != nil {
			id = &category.ID
			break
		}
	}

	r.cache[key] = id
	return id, nil
}

// CategoryLabel turns a provider category code such as FOOD_AND_DRINK into "Food And Drink".
func CategoryLabel(code string) string {
	words := strings.Fields(strings.ReplaceAll(strings.TrimSpace(code), "_", " "))
	for i, w := range words {
		w = strings.ToLower(w)
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
