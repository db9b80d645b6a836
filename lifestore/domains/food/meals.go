package food

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/arthur-debert/lifestore/lifestore/analytics"
	"github.com/arthur-debert/lifestore/lifestore/search"
	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

// AddRecipe stores a new recipe
func (s *Service) AddRecipe(ctx context.Context, r Recipe) (Recipe, error) {
	if r.Name == "" || r.Category == "" {
		return Recipe{}, fmt.Errorf("%w: recipe needs a name and a category", types.ErrInvalidRecord)
	}
	r.ID = ""
	r.CreatedAt = s.now().UTC().Format(time.RFC3339)
	return insert(ctx, s.h, Recipes, r)
}

// Recipe returns the recipe stored under id
func (s *Service) Recipe(ctx context.Context, id string) (Recipe, error) {
	return get[Recipe](ctx, s.h, Recipes, id)
}

// UpdateRecipe replaces a stored recipe
func (s *Service) UpdateRecipe(ctx context.Context, r Recipe) error {
	if r.Name == "" || r.Category == "" {
		return fmt.Errorf("%w: recipe needs a name and a category", types.ErrInvalidRecord)
	}
	return replace(ctx, s.h, Recipes, r.ID, r)
}

// DeleteRecipe removes a recipe. Meal logs and plans naming it keep their
// copy of its name.
func (s *Service) DeleteRecipe(ctx context.Context, id string) error {
	return remove(ctx, s.h, Recipes, id)
}

// ToggleRecipeFavorite flips the favorite flag of a recipe and returns it
func (s *Service) ToggleRecipeFavorite(ctx context.Context, id string) (Recipe, error) {
	var out Recipe
	err := s.h.WithTransaction(ctx, []string{Recipes}, types.ReadWrite, func(txn *store.Txn) error {
		rec, found, err := txn.Get(Recipes, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: recipe %s", types.ErrNotFound, id)
		}
		fav, _ := rec["isFavorite"].(bool)
		rec["isFavorite"] = !fav
		stored, err := txn.Update(Recipes, id, rec)
		if err != nil {
			return err
		}
		out, err = types.Decode[Recipe](stored)
		return err
	})
	return out, err
}

// RecipeFilter narrows Recipes. Zero fields do not filter.
type RecipeFilter struct {
	Category      string
	Cuisine       string
	FavoritesOnly bool
	Search        string
}

// Recipes returns the recipes matching f, by name
func (s *Service) Recipes(ctx context.Context, f RecipeFilter) ([]Recipe, error) {
	var preds []types.Predicate
	if f.Category != "" {
		preds = append(preds, eq("category", f.Category))
	}
	if f.Cuisine != "" {
		preds = append(preds, eq("cuisine", f.Cuisine))
	}
	if f.FavoritesOnly {
		preds = append(preds, eq("isFavorite", true))
	}
	if f.Search != "" {
		preds = append(preds, types.Predicate{Field: "name", Op: types.OpContains, Value: f.Search})
	}
	return list[Recipe](ctx, s.h, Recipes, types.Query{
		Predicates: preds,
		Sort:       []types.SortClause{{Field: "name"}},
	})
}

// RecipeMatch is a recipe found by SearchRecipes
type RecipeMatch struct {
	Recipe        Recipe   `json:"recipe"`
	Score         float64  `json:"score"`
	MatchedFields []string `json:"matchedFields"`
}

// recipeSearchFields are searched in this order; a name match ranks highest
var recipeSearchFields = []string{"name", "description", "tags", "ingredients.name", "cuisine"}

// SearchRecipes ranks recipes by how well their name, description, tags,
// ingredients or cuisine match text. limit <= 0 returns every match.
func (s *Service) SearchRecipes(ctx context.Context, text string, limit int) ([]RecipeMatch, error) {
	results, err := search.Collection(ctx, s.h, Recipes, search.Options{
		Query:      text,
		Fields:     recipeSearchFields,
		MaxResults: limit,
	}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]RecipeMatch, len(results))
	for i, r := range results {
		recipe, err := types.Decode[Recipe](r.Record)
		if err != nil {
			return nil, err
		}
		out[i] = RecipeMatch{Recipe: recipe, Score: r.Score, MatchedFields: r.MatchedFields}
	}
	return out, nil
}

// LogMeal records a meal. Date defaults to today and servings to one.
func (s *Service) LogMeal(ctx context.Context, m MealLog) (MealLog, error) {
	if m.MealType == "" {
		return MealLog{}, fmt.Errorf("%w: meal log needs a meal type", types.ErrInvalidRecord)
	}
	m.ID = ""
	if m.Date == "" {
		m.Date = s.today()
	}
	if m.Servings <= 0 {
		m.Servings = 1
	}
	return insert(ctx, s.h, MealLogs, m)
}

// MealLogs returns the meals logged between two dates, inclusive, in
// date order. Empty bounds leave that side open.
func (s *Service) MealLogs(ctx context.Context, start, end string) ([]MealLog, error) {
	var preds []types.Predicate
	switch {
	case start != "" && end != "":
		preds = append(preds, types.Predicate{Field: "date", Op: types.OpBetween, Value: start, Upper: end})
	case start != "":
		preds = append(preds, types.Predicate{Field: "date", Op: types.OpGte, Value: start})
	case end != "":
		preds = append(preds, types.Predicate{Field: "date", Op: types.OpLte, Value: end})
	}
	return list[MealLog](ctx, s.h, MealLogs, types.Query{
		Predicates: preds,
		Sort:       []types.SortClause{{Field: "date"}},
	})
}

// DailyNutrition sums the nutrition of every meal logged on date, each
// scaled by its servings
func (s *Service) DailyNutrition(ctx context.Context, date string) (Nutrition, error) {
	logs, err := s.MealLogs(ctx, date, date)
	if err != nil {
		return Nutrition{}, err
	}
	return total(logs), nil
}

// WeeklyNutritionAverage averages the nutrition of the seven days ending
// on the day of now, rounded to whole units
func (s *Service) WeeklyNutritionAverage(ctx context.Context, now time.Time) (Nutrition, error) {
	logs, err := s.MealLogs(ctx, now.AddDate(0, 0, -6).Format(DateLayout), now.Format(DateLayout))
	if err != nil {
		return Nutrition{}, err
	}
	sum := total(logs)
	avg := func(v float64) float64 { return math.Round(v / 7) }
	return Nutrition{
		Calories: avg(sum.Calories),
		Protein:  avg(sum.Protein),
		Carbs:    avg(sum.Carbs),
		Fat:      avg(sum.Fat),
		Fiber:    avg(sum.Fiber),
		Sodium:   avg(sum.Sodium),
		Sugar:    avg(sum.Sugar),
	}, nil
}

func total(logs []MealLog) Nutrition {
	var sum Nutrition
	for _, l := range logs {
		servings := l.Servings
		if servings <= 0 {
			servings = 1
		}
		sum = sum.plus(l.Nutrition.scaled(servings))
	}
	return sum
}

// LogWater records water drunk now, in millilitres
func (s *Service) LogWater(ctx context.Context, amount float64) (WaterLog, error) {
	if amount <= 0 {
		return WaterLog{}, fmt.Errorf("%w: water amount must be positive", types.ErrInvalidRecord)
	}
	now := s.now()
	return insert(ctx, s.h, WaterLogs, WaterLog{
		Date:   now.Format(DateLayout),
		Time:   now.Format(time.TimeOnly),
		Amount: amount,
	})
}

// DailyWater returns the millilitres of water logged on date
func (s *Service) DailyWater(ctx context.Context, date string) (float64, error) {
	var out float64
	err := s.h.WithTransaction(ctx, []string{WaterLogs}, types.ReadOnly, func(txn *store.Txn) error {
		res, err := txn.Aggregate(WaterLogs, types.AggregateSpec{
			Predicates: []types.Predicate{eq("date", date)},
			Metric:     analytics.Sum("amount"),
		})
		if err != nil {
			return err
		}
		out = res.Value
		return nil
	})
	return out, err
}

// DeleteMealLog removes a logged meal
func (s *Service) DeleteMealLog(ctx context.Context, id string) error {
	return remove(ctx, s.h, MealLogs, id)
}

// CreateMealPlan stores an empty plan for the week starting at weekStart
func (s *Service) CreateMealPlan(ctx context.Context, weekStart string) (MealPlan, error) {
	if _, err := time.Parse(DateLayout, weekStart); err != nil {
		return MealPlan{}, fmt.Errorf("%w: week start %q is not a date", types.ErrInvalidRecord, weekStart)
	}
	days := make(map[string]PlanDay, len(Weekdays))
	for _, d := range Weekdays {
		days[d] = PlanDay{}
	}
	return insert(ctx, s.h, MealPlans, MealPlan{WeekStart: weekStart, Days: days})
}

// MealPlan returns the plan of the week starting at weekStart
func (s *Service) MealPlan(ctx context.Context, weekStart string) (MealPlan, error) {
	plans, err := list[MealPlan](ctx, s.h, MealPlans, types.Query{
		Predicates: []types.Predicate{eq("weekStart", weekStart)},
		Limit:      1,
	})
	if err != nil {
		return MealPlan{}, err
	}
	if len(plans) == 0 {
		return MealPlan{}, fmt.Errorf("%w: meal plan for %s", types.ErrNotFound, weekStart)
	}
	return plans[0], nil
}

// UpdateMealPlan replaces a stored plan
func (s *Service) UpdateMealPlan(ctx context.Context, p MealPlan) error {
	return replace(ctx, s.h, MealPlans, p.ID, p)
}

// quickLunch is the longest prep time, in minutes, of a planned lunch
const quickLunch = 30

// GenerateMealPlan fills every day of the week starting at weekStart with
// recipes picked at random: a breakfast recipe, a lunch or dinner recipe
// that is quick to prepare for lunch, a lunch or dinner recipe for dinner
// and a snack. Slots without candidates stay empty. Recipes naming an
// allergen or disliked food of prefs are never picked. The week's plan is
// created, or overwritten when it exists.
func (s *Service) GenerateMealPlan(ctx context.Context, weekStart string, prefs *FoodPreferences) (MealPlan, error) {
	if _, err := time.Parse(DateLayout, weekStart); err != nil {
		return MealPlan{}, fmt.Errorf("%w: week start %q is not a date", types.ErrInvalidRecord, weekStart)
	}
	var plan MealPlan
	err := s.h.WithTransaction(ctx, []string{Recipes, MealPlans}, types.ReadWrite, func(txn *store.Txn) error {
		recs, err := txn.Query(Recipes, types.Query{Sort: []types.SortClause{{Field: "name"}}})
		if err != nil {
			return err
		}
		recipes, err := types.DecodeAll[Recipe](recs)
		if err != nil {
			return err
		}

		var breakfasts, lunches, dinners, snacks []Recipe
		for _, r := range recipes {
			if prefs != nil && avoids(*prefs, r) {
				continue
			}
			switch r.Category {
			case "breakfast":
				breakfasts = append(breakfasts, r)
			case "lunch", "dinner":
				if r.PrepTime <= quickLunch {
					lunches = append(lunches, r)
				}
				dinners = append(dinners, r)
			case "snack":
				snacks = append(snacks, r)
			}
		}

		existing, err := txn.Query(MealPlans, types.Query{Predicates: []types.Predicate{eq("weekStart", weekStart)}, Limit: 1})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if plan, err = types.Decode[MealPlan](existing[0]); err != nil {
				return err
			}
		}
		plan.WeekStart = weekStart
		plan.Days = make(map[string]PlanDay, len(Weekdays))
		for _, day := range Weekdays {
			d := PlanDay{
				Breakfast: s.pickMeal(breakfasts),
				Lunch:     s.pickMeal(lunches),
				Dinner:    s.pickMeal(dinners),
			}
			if snack := s.pickMeal(snacks); snack != nil {
				d.Snacks = []PlannedMeal{*snack}
			}
			plan.Days[day] = d
		}

		rec, err := types.FromStruct(plan)
		if err != nil {
			return err
		}
		stored, err := txn.Put(MealPlans, rec)
		if err != nil {
			return err
		}
		plan, err = types.Decode[MealPlan](stored)
		return err
	})
	if err != nil {
		return MealPlan{}, err
	}
	return plan, nil
}

func (s *Service) pickMeal(candidates []Recipe) *PlannedMeal {
	if len(candidates) == 0 {
		return nil
	}
	r := candidates[s.pick(len(candidates))]
	return &PlannedMeal{RecipeID: r.ID, Name: r.Name}
}

// avoids reports whether r names one of the allergies or disliked foods in
// its name or ingredients, ignoring case
func avoids(p FoodPreferences, r Recipe) bool {
	texts := []string{strings.ToLower(r.Name)}
	for _, ing := range r.Ingredients {
		texts = append(texts, strings.ToLower(ing.Name))
	}
	for _, avoid := range append(append([]string{}, p.Allergies...), p.DislikedFoods...) {
		avoid = strings.ToLower(strings.TrimSpace(avoid))
		if avoid == "" {
			continue
		}
		for _, text := range texts {
			if strings.Contains(text, avoid) {
				return true
			}
		}
	}
	return false
}

// SavePreferences stores the user's preferences, replacing earlier ones
func (s *Service) SavePreferences(ctx context.Context, p FoodPreferences) error {
	rec, err := types.FromStruct(p)
	if err != nil {
		return err
	}
	rec["id"] = preferencesID
	return s.h.WithTransaction(ctx, []string{Preferences}, types.ReadWrite, func(txn *store.Txn) error {
		_, err := txn.Put(Preferences, rec)
		return err
	})
}

// Preferences returns the stored preferences. Found is false before the
// first save.
func (s *Service) Preferences(ctx context.Context) (p FoodPreferences, found bool, err error) {
	err = s.h.WithTransaction(ctx, []string{Preferences}, types.ReadOnly, func(txn *store.Txn) error {
		rec, ok, err := txn.Get(Preferences, preferencesID)
		if err != nil || !ok {
			return err
		}
		found = true
		p, err = types.Decode[FoodPreferences](rec)
		return err
	})
	return p, found, err
}

var ingredientCategories = []struct {
	category string
	words    []string
}{
	{"Protein", []string{"chicken", "beef", "pork", "fish", "salmon", "shrimp", "turkey", "lamb"}},
	{"Dairy", []string{"milk", "cheese", "yogurt", "butter", "cream"}},
	{"Fruits", []string{"apple", "banana", "berry", "orange", "lemon", "lime", "grape", "melon"}},
	{"Vegetables", []string{"lettuce", "spinach", "kale", "broccoli", "carrot", "tomato", "onion", "garlic", "pepper", "potato"}},
	{"Grains", []string{"bread", "pasta", "rice", "flour", "oat", "cereal", "quinoa"}},
	{"Condiments", []string{"oil", "vinegar", "sauce", "mayo", "mustard", "ketchup"}},
	{"Spices", []string{"salt", "cumin", "paprika", "cinnamon", "oregano", "basil"}},
}

// CategorizeIngredient guesses the grocery aisle of an ingredient by name
func CategorizeIngredient(name string) string {
	lower := strings.ToLower(name)
	for _, c := range ingredientCategories {
		for _, w := range c.words {
			if strings.Contains(lower, w) {
				return c.category
			}
		}
	}
	return "Other"
}
