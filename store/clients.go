package store

import (
	"context"
	"encoding/json"
	"time"
)

type Client struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (tx *Tx) InsertClient(ctx context.Context, c *Client) error {
	_, err := tx.exec(ctx, `INSERT INTO clients (id, name, email, attributes) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, docArg(c.Attributes, "{}"))
	return classify("insert client", err)
}

func (tx *Tx) GetClient(ctx context.Context, id string) (*Client, error) {
	var c Client
	var attrs []byte
	var createdAt any
	err := tx.queryRow(ctx, `SELECT id, name, email, attributes, created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Email, &attrs, &createdAt)
	if err != nil {
		return nil, classify("get client", err)
	}
	c.Attributes = docValue(attrs)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
