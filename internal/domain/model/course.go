package model

import "time"

// Course carries only the catalog fields the purchase lifecycle touches.
type Course struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Price      int64     `json:"price"`
	Published  bool      `json:"published"`
	AccessDays int       `json:"access_days"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c Course) Purchasable() bool {
	return c.Published && c.Price > 0
}
