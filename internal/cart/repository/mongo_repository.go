package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrVersionConflict = errors.New("cart changed concurrently")
)

const maxOrderedRemovals = 3

type MongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
		now:        time.Now,
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*d.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toDomain()
}

// AddItem merges into an existing line for the same meal with identical
// instructions, otherwise appends a new line. The cart is created on first add.
func (m *MongoRepository) AddItem(ctx context.Context, userID string, item d.CartLineItem) error {
	now := m.now()

	merge := bson.M{
		"user_id": userID,
		"items": bson.M{"$elemMatch": bson.M{
			"meal_id":              item.MealID,
			"special_instructions": item.SpecialInstructions,
		}},
	}
	res, err := m.collection.UpdateOne(ctx, merge, bson.M{
		"$inc": bson.M{"items.$.quantity": item.Quantity, "version": 1},
		"$set": bson.M{"updated_at": now},
	})
	if err != nil {
		return fmt.Errorf("failed to merge item: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.AddedAt = now
	_, err = m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$push":        bson.M{"items": newItemDocument(item)},
			"$inc":         bson.M{"version": 1},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}
	return nil
}

func (m *MongoRepository) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	return m.updateItem(ctx, userID, itemID, bson.M{"items.$.quantity": quantity})
}

func (m *MongoRepository) UpdateItemInstructions(ctx context.Context, userID, itemID, instructions string) error {
	return m.updateItem(ctx, userID, itemID, bson.M{"items.$.special_instructions": instructions})
}

func (m *MongoRepository) updateItem(ctx context.Context, userID, itemID string, set bson.M) error {
	set["updated_at"] = m.now()
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "items.id": itemID},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *MongoRepository) RemoveItem(ctx context.Context, userID, itemID string) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "items.id": itemID},
		bson.M{
			"$pull": bson.M{"items": bson.M{"id": itemID}},
			"$inc":  bson.M{"version": 1},
			"$set":  bson.M{"updated_at": m.now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

// SetPromo replaces whatever promo the cart holds.
func (m *MongoRepository) SetPromo(ctx context.Context, userID string, offer d.PromoOffer) error {
	now := m.now()
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$set":         bson.M{"promo": newPromoDocument(offer), "updated_at": now},
			"$inc":         bson.M{"version": 1},
			"$setOnInsert": bson.M{"created_at": now, "items": bson.A{}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to set promo: %w", err)
	}
	return nil
}

func (m *MongoRepository) ClearPromo(ctx context.Context, userID string) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$unset": bson.M{"promo": ""},
			"$inc":   bson.M{"version": 1},
			"$set":   bson.M{"updated_at": m.now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to clear promo: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, userID string) error {
	res, err := m.collection.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// RemoveOrderedItems rewrites the cart only if its version is unchanged since it
// was read, retrying a few times against concurrent edits.
func (m *MongoRepository) RemoveOrderedItems(ctx context.Context, userID string, lines []d.OrderedLine) error {
	for range maxOrderedRemovals {
		var doc cartDocument
		err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrCartNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get cart: %w", err)
		}
		cart, err := doc.toDomain()
		if err != nil {
			return err
		}
		remaining, changed := d.SubtractOrdered(cart.Items, lines)
		if !changed {
			return nil
		}

		filter := bson.M{"user_id": userID, "version": doc.Version}
		var matched int64
		if len(remaining) == 0 {
			res, err := m.collection.DeleteOne(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to delete ordered cart: %w", err)
			}
			matched = res.DeletedCount
		} else {
			items := make([]itemDocument, 0, len(remaining))
			for _, it := range remaining {
				items = append(items, newItemDocument(it))
			}
			res, err := m.collection.UpdateOne(ctx, filter, bson.M{
				"$set":   bson.M{"items": items, "updated_at": m.now()},
				"$unset": bson.M{"promo": ""},
				"$inc":   bson.M{"version": 1},
			})
			if err != nil {
				return fmt.Errorf("failed to remove ordered items: %w", err)
			}
			matched = res.MatchedCount
		}
		if matched > 0 {
			return nil
		}
	}
	return ErrVersionConflict
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
		},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
