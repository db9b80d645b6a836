// Package food tracks recipes, the pantry, the grocery list, meals, meal
// plans and water intake on top of the food domain store.
package food

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

// Domain is the registry name of the food domain
const Domain = "food"

// Collections of the food domain
const (
	Recipes     = "recipes"
	Pantry      = "pantry"
	GroceryList = "groceryList"
	MealLogs    = "mealLogs"
	MealPlans   = "mealPlans"
	WaterLogs   = "waterLogs"
	Preferences = "preferences"
)

// DateLayout formats every stored calendar date
const DateLayout = "2006-01-02"

const preferencesID = "user-preferences"

// Weekdays keys the days of a meal plan
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Nutrition holds the nutrient amounts of one serving or a day's total
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
	Sodium   float64 `json:"sodium"`
	Sugar    float64 `json:"sugar"`
}

func (n Nutrition) scaled(f float64) Nutrition {
	return Nutrition{
		Calories: n.Calories * f,
		Protein:  n.Protein * f,
		Carbs:    n.Carbs * f,
		Fat:      n.Fat * f,
		Fiber:    n.Fiber * f,
		Sodium:   n.Sodium * f,
		Sugar:    n.Sugar * f,
	}
}

func (n Nutrition) plus(o Nutrition) Nutrition {
	return Nutrition{
		Calories: n.Calories + o.Calories,
		Protein:  n.Protein + o.Protein,
		Carbs:    n.Carbs + o.Carbs,
		Fat:      n.Fat + o.Fat,
		Fiber:    n.Fiber + o.Fiber,
		Sodium:   n.Sodium + o.Sodium,
		Sugar:    n.Sugar + o.Sugar,
	}
}

// Ingredient is one line of a recipe
type Ingredient struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit,omitempty"`
	Notes    string  `json:"notes,omitempty"`
	Optional bool    `json:"optional,omitempty"`
}

// Recipe is a stored recipe
type Recipe struct {
	ID           string       `json:"id,omitempty"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Category     string       `json:"category"`
	Cuisine      string       `json:"cuisine,omitempty"`
	Ingredients  []Ingredient `json:"ingredients,omitempty"`
	Instructions []string     `json:"instructions,omitempty"`
	PrepTime     int          `json:"prepTime,omitempty"`
	CookTime     int          `json:"cookTime,omitempty"`
	Servings     int          `json:"servings,omitempty"`
	Nutrition    *Nutrition   `json:"nutrition,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Dietary      []string     `json:"dietary,omitempty"`
	IsFavorite   bool         `json:"isFavorite"`
	CreatedAt    string       `json:"createdAt,omitempty"`
}

// PantryItem is food on hand
type PantryItem struct {
	ID                string  `json:"id,omitempty"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	Quantity          float64 `json:"quantity"`
	Unit              string  `json:"unit,omitempty"`
	PurchaseDate      string  `json:"purchaseDate,omitempty"`
	ExpirationDate    string  `json:"expirationDate,omitempty"`
	Location          string  `json:"location,omitempty"`
	Brand             string  `json:"brand,omitempty"`
	Notes             string  `json:"notes,omitempty"`
	LowStockThreshold float64 `json:"lowStockThreshold,omitempty"`
	Price             float64 `json:"price,omitempty"`
}

// GroceryItem is one entry of the shopping list
type GroceryItem struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Priority string  `json:"priority,omitempty"`
	Checked  bool    `json:"checked"`
	RecipeID string  `json:"recipeId,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

// MealLog records one meal eaten
type MealLog struct {
	ID        string    `json:"id,omitempty"`
	Date      string    `json:"date"`
	MealType  string    `json:"mealType"`
	Name      string    `json:"name,omitempty"`
	RecipeID  string    `json:"recipeId,omitempty"`
	Servings  float64   `json:"servings,omitempty"`
	Nutrition Nutrition `json:"nutrition"`
	Notes     string    `json:"notes,omitempty"`
	Mood      string    `json:"mood,omitempty"`
}

// PlannedMeal is a meal slot of a plan
type PlannedMeal struct {
	RecipeID string `json:"recipeId,omitempty"`
	Name     string `json:"name"`
}

// PlanDay holds the meals planned for one weekday
type PlanDay struct {
	Breakfast *PlannedMeal  `json:"breakfast,omitempty"`
	Lunch     *PlannedMeal  `json:"lunch,omitempty"`
	Dinner    *PlannedMeal  `json:"dinner,omitempty"`
	Snacks    []PlannedMeal `json:"snacks,omitempty"`
}

// MealPlan plans the meals of the week starting at WeekStart
type MealPlan struct {
	ID        string             `json:"id,omitempty"`
	WeekStart string             `json:"weekStart"`
	Days      map[string]PlanDay `json:"days"`
	Notes     string             `json:"notes,omitempty"`
}

// WaterLog records water drunk, in millilitres
type WaterLog struct {
	ID     string  `json:"id,omitempty"`
	Date   string  `json:"date"`
	Time   string  `json:"time,omitempty"`
	Amount float64 `json:"amount"`
}

// FoodPreferences are the user's dietary settings
type FoodPreferences struct {
	Allergies           []string `json:"allergies,omitempty"`
	DislikedFoods       []string `json:"dislikedFoods,omitempty"`
	FavoriteFoods       []string `json:"favoriteFoods,omitempty"`
	DietaryRestrictions []string `json:"dietaryRestrictions,omitempty"`
	CalorieGoal         float64  `json:"calorieGoal,omitempty"`
	ProteinGoal         float64  `json:"proteinGoal,omitempty"`
	WaterGoal           float64  `json:"waterGoal,omitempty"`
}

// Service implements the food operations over an open domain handle
type Service struct {
	h    *store.Handle
	now  func() time.Time
	pick func(n int) int
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now for dates and timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRand draws meal plan picks from r
func WithRand(r *rand.Rand) Option {
	return func(s *Service) {
		s.pick = r.IntN
	}
}

// New creates a service. h must be a handle of the food domain.
func New(h *store.Handle, opts ...Option) (*Service, error) {
	if h.Domain() != Domain {
		return nil, fmt.Errorf("%w: food service needs the %s domain, got %s", types.ErrUnknownDomain, Domain, h.Domain())
	}
	s := &Service{h: h, now: time.Now, pick: rand.IntN}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) today() string {
	return s.now().Format(DateLayout)
}

func eq(field string, value any) types.Predicate {
	return types.Predicate{Field: field, Op: types.OpEq, Value: value}
}

func insert[T any](ctx context.Context, h *store.Handle, collection string, v T) (T, error) {
	var out T
	rec, err := types.FromStruct(v)
	if err != nil {
		return out, err
	}
	err = h.WithTransaction(ctx, []string{collection}, types.ReadWrite, func(txn *store.Txn) error {
		stored, err := txn.Insert(collection, rec)
		if err != nil {
			return err
		}
		out, err = types.Decode[T](stored)
		return err
	})
	return out, err
}

func list[T any](ctx context.Context, h *store.Handle, collection string, q types.Query) ([]T, error) {
	var out []T
	err := h.WithTransaction(ctx, []string{collection}, types.ReadOnly, func(txn *store.Txn) error {
		recs, err := txn.Query(collection, q)
		if err != nil {
			return err
		}
		out, err = types.DecodeAll[T](recs)
		return err
	})
	return out, err
}

// modify applies fn to the record stored under id and writes it back
func modify(ctx context.Context, h *store.Handle, collection, id string, fn func(types.Record)) error {
	return h.WithTransaction(ctx, []string{collection}, types.ReadWrite, func(txn *store.Txn) error {
		rec, found, err := txn.Get(collection, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s %s", types.ErrNotFound, collection, id)
		}
		fn(rec)
		_, err = txn.Update(collection, id, rec)
		return err
	})
}

// get decodes the record stored under id
func get[T any](ctx context.Context, h *store.Handle, collection, id string) (T, error) {
	var out T
	err := h.WithTransaction(ctx, []string{collection}, types.ReadOnly, func(txn *store.Txn) error {
		rec, found, err := txn.Get(collection, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s %s", types.ErrNotFound, collection, id)
		}
		out, err = types.Decode[T](rec)
		return err
	})
	return out, err
}

// replace overwrites the record stored under id. It fails with ErrNotFound
// when there is none.
func replace[T any](ctx context.Context, h *store.Handle, collection, id string, v T) error {
	if id == "" {
		return fmt.Errorf("%w: %s record needs an id", types.ErrInvalidRecord, collection)
	}
	rec, err := types.FromStruct(v)
	if err != nil {
		return err
	}
	return h.WithTransaction(ctx, []string{collection}, types.ReadWrite, func(txn *store.Txn) error {
		_, err := txn.Update(collection, id, rec)
		return err
	})
}

func remove(ctx context.Context, h *store.Handle, collection, id string) error {
	return h.WithTransaction(ctx, []string{collection}, types.ReadWrite, func(txn *store.Txn) error {
		return txn.Delete(collection, id)
	})
}
