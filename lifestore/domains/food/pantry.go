package food

import (
	"context"
	"fmt"
	"time"

	"github.com/arthur-debert/lifestore/lifestore/store"
	"github.com/arthur-debert/lifestore/types"
)

// AddPantryItem stores a new pantry item
func (s *Service) AddPantryItem(ctx context.Context, item PantryItem) (PantryItem, error) {
	if item.Name == "" {
		return PantryItem{}, fmt.Errorf("%w: pantry item needs a name", types.ErrInvalidRecord)
	}
	item.ID = ""
	return insert(ctx, s.h, Pantry, item)
}

// PantryItems returns every pantry item
func (s *Service) PantryItems(ctx context.Context) ([]PantryItem, error) {
	return list[PantryItem](ctx, s.h, Pantry, types.Query{})
}

// ExpiringItems returns the items expiring between the day of now and
// days later, inclusive, soonest first. Items without an expiration date
// are never returned.
func (s *Service) ExpiringItems(ctx context.Context, now time.Time, days int) ([]PantryItem, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days cannot be negative", types.ErrInvalidQuery)
	}
	from := now.Format(DateLayout)
	until := now.AddDate(0, 0, days).Format(DateLayout)
	return list[PantryItem](ctx, s.h, Pantry, types.Query{
		Predicates: []types.Predicate{{Field: "expirationDate", Op: types.OpBetween, Value: from, Upper: until}},
		Sort:       []types.SortClause{{Field: "expirationDate"}},
	})
}

// LowStockItems returns the items at or below their low stock threshold.
// Items without a threshold are never low.
func (s *Service) LowStockItems(ctx context.Context) ([]PantryItem, error) {
	items, err := list[PantryItem](ctx, s.h, Pantry, types.Query{
		Predicates: []types.Predicate{{Field: "lowStockThreshold", Op: types.OpGt, Value: 0}},
	})
	if err != nil {
		return nil, err
	}
	low := items[:0]
	for _, item := range items {
		if item.Quantity <= item.LowStockThreshold {
			low = append(low, item)
		}
	}
	return low, nil
}

// PantryItem returns the pantry item stored under id
func (s *Service) PantryItem(ctx context.Context, id string) (PantryItem, error) {
	return get[PantryItem](ctx, s.h, Pantry, id)
}

// UpdatePantryItem replaces a stored pantry item
func (s *Service) UpdatePantryItem(ctx context.Context, item PantryItem) error {
	if item.Name == "" || item.Quantity < 0 {
		return fmt.Errorf("%w: pantry item needs a name and a quantity of zero or more", types.ErrInvalidRecord)
	}
	return replace(ctx, s.h, Pantry, item.ID, item)
}

// DeletePantryItem removes an item from the pantry
func (s *Service) DeletePantryItem(ctx context.Context, id string) error {
	return remove(ctx, s.h, Pantry, id)
}

// UpdatePantryQuantity sets the quantity of a pantry item
func (s *Service) UpdatePantryQuantity(ctx context.Context, id string, quantity float64) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", types.ErrInvalidRecord)
	}
	return modify(ctx, s.h, Pantry, id, func(rec types.Record) {
		rec["quantity"] = quantity
	})
}

// AddGroceryItem adds an unchecked item to the grocery list
func (s *Service) AddGroceryItem(ctx context.Context, item GroceryItem) (GroceryItem, error) {
	if item.Name == "" {
		return GroceryItem{}, fmt.Errorf("%w: grocery item needs a name", types.ErrInvalidRecord)
	}
	item.ID = ""
	if item.Priority == "" {
		item.Priority = "medium"
	}
	return insert(ctx, s.h, GroceryList, item)
}

// Groceries returns the grocery list grouped by category
func (s *Service) Groceries(ctx context.Context) ([]GroceryItem, error) {
	return list[GroceryItem](ctx, s.h, GroceryList, types.Query{
		Sort: []types.SortClause{{Field: "category"}, {Field: "name"}},
	})
}

// UpdateGroceryItem replaces a stored grocery item
func (s *Service) UpdateGroceryItem(ctx context.Context, item GroceryItem) error {
	if item.Name == "" {
		return fmt.Errorf("%w: grocery item needs a name", types.ErrInvalidRecord)
	}
	return replace(ctx, s.h, GroceryList, item.ID, item)
}

// DeleteGroceryItem removes an item from the grocery list
func (s *Service) DeleteGroceryItem(ctx context.Context, id string) error {
	return remove(ctx, s.h, GroceryList, id)
}

// ToggleGroceryChecked flips the checked state of a grocery item
func (s *Service) ToggleGroceryChecked(ctx context.Context, id string) error {
	return modify(ctx, s.h, GroceryList, id, func(rec types.Record) {
		checked, _ := rec["checked"].(bool)
		rec["checked"] = !checked
	})
}

// ClearCheckedGroceries deletes every checked item in one transaction and
// returns how many were removed
func (s *Service) ClearCheckedGroceries(ctx context.Context) (int, error) {
	removed := 0
	err := s.h.WithTransaction(ctx, []string{GroceryList}, types.ReadWrite, func(txn *store.Txn) error {
		checked, err := txn.Query(GroceryList, types.Query{Predicates: []types.Predicate{eq("checked", true)}})
		if err != nil {
			return err
		}
		for _, rec := range checked {
			if err := txn.Delete(GroceryList, rec["id"]); err != nil {
				return err
			}
		}
		removed = len(checked)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// GroceriesFromRecipe adds every ingredient of a recipe to the grocery
// list, scaled by multiplier, in one transaction
func (s *Service) GroceriesFromRecipe(ctx context.Context, recipeID string, multiplier float64) ([]GroceryItem, error) {
	if multiplier <= 0 {
		multiplier = 1
	}
	var added []GroceryItem
	err := s.h.WithTransaction(ctx, []string{Recipes, GroceryList}, types.ReadWrite, func(txn *store.Txn) error {
		rec, found, err := txn.Get(Recipes, recipeID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: recipe %s", types.ErrNotFound, recipeID)
		}
		recipe, err := types.Decode[Recipe](rec)
		if err != nil {
			return err
		}
		for _, ing := range recipe.Ingredients {
			item, err := types.FromStruct(GroceryItem{
				Name:     ing.Name,
				Category: CategorizeIngredient(ing.Name),
				Quantity: ing.Amount * multiplier,
				Unit:     ing.Unit,
				Priority: "medium",
				RecipeID: recipe.ID,
				Notes:    ing.Notes,
			})
			if err != nil {
				return err
			}
			stored, err := txn.Insert(GroceryList, item)
			if err != nil {
				return err
			}
			g, err := types.Decode[GroceryItem](stored)
			if err != nil {
				return err
			}
			added = append(added, g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}
