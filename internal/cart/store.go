package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

var ErrLineNotFound = errors.New("cart line not found")

const keyPrefix = "cart:"

// Abandoned carts expire on their own; there is no cleanup job.
const cartTTL = 30 * 24 * time.Hour

// Store keeps carts in Redis as one JSON document per cart. Carts are
// working drafts, not records: losing one costs the shopper a few clicks,
// so they never touch Postgres.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	data, err := s.client.Get(ctx, keyPrefix+cartID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart %s: %w", cartID, err)
	}

	cart := &domain.Cart{}
	if err := json.Unmarshal(data, cart); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", cartID, err)
	}
	return cart, nil
}

func (s *Store) save(ctx context.Context, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+cart.ID, data, cartTTL).Err(); err != nil {
		return fmt.Errorf("save cart %s: %w", cart.ID, err)
	}
	return nil
}

// AddItem adds quantity to a variant's line, creating the cart or the line
// as needed.
func (s *Store) AddItem(ctx context.Context, cartID, variantID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", quantity)
	}

	cart, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		cart = &domain.Cart{ID: cartID}
	}

	found := false
	for i, line := range cart.Lines {
		if line.VariantID == variantID {
			cart.Lines[i].Quantity += quantity
			found = true
			break
		}
	}
	if !found {
		cart.Lines = append(cart.Lines, domain.CartLine{VariantID: variantID, Quantity: quantity})
	}

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateItem sets a line's quantity. Zero removes the line; a variant not in
// the cart is ErrLineNotFound.
func (s *Store) UpdateItem(ctx context.Context, cartID, variantID string, quantity int) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("invalid quantity %d", quantity)
	}

	cart, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, ErrLineNotFound
	}

	idx := -1
	for i, line := range cart.Lines {
		if line.VariantID == variantID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrLineNotFound
	}

	if quantity == 0 {
		cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
	} else {
		cart.Lines[idx].Quantity = quantity
	}

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveItem drops a variant's line. Removing an absent line is a no-op.
func (s *Store) RemoveItem(ctx context.Context, cartID, variantID string) (*domain.Cart, error) {
	cart, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return &domain.Cart{ID: cartID}, nil
	}

	lines := cart.Lines[:0]
	for _, line := range cart.Lines {
		if line.VariantID != variantID {
			lines = append(lines, line)
		}
	}
	cart.Lines = lines

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Store) Clear(ctx context.Context, cartID string) error {
	if err := s.client.Del(ctx, keyPrefix+cartID).Err(); err != nil {
		return fmt.Errorf("clear cart %s: %w", cartID, err)
	}
	return nil
}
