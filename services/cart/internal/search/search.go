// Package search serves product search from Elasticsearch, or from the
// catalog table when no cluster is configured.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

type Results struct {
	Total int64            `json:"total"`
	Items []models.Product `json:"products"`
}

type Searcher interface {
	Search(ctx context.Context, q string, from, size int) (Results, error)
}

type Config struct {
	URL      string
	Username string
	Password string
	Index    string
}

// NewClient connects and checks the cluster answers Info.
func NewClient(cfg Config) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("elasticsearch info: %s: %s", res.Status(), body)
	}
	return client, nil
}

type Elastic struct {
	es    *elasticsearch.Client
	index string
}

func NewElastic(es *elasticsearch.Client, index string) *Elastic {
	return &Elastic{es: es, index: index}
}

func (e *Elastic) Search(ctx context.Context, q string, from, size int) (Results, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Results{Items: []models.Product{}}, nil
	}
	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     q,
				"fields":    []string{"name^2", "description", "category"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return Results{}, fmt.Errorf("encode query: %w", err)
	}

	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(e.index),
		e.es.Search.WithBody(&buf),
	)
	if err != nil {
		return Results{}, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return Results{}, fmt.Errorf("search: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Product `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return Results{}, fmt.Errorf("decode search response: %w", err)
	}

	out := Results{Total: r.Hits.Total.Value, Items: make([]models.Product, len(r.Hits.Hits))}
	for i, hit := range r.Hits.Hits {
		out.Items[i] = hit.Source
	}
	return out, nil
}

// IndexProducts writes products as documents keyed by product id.
func (e *Elastic) IndexProducts(ctx context.Context, products []models.Product) error {
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode product %d: %w", p.ID, err)
		}
		res, err := e.es.Index(e.index, bytes.NewReader(data),
			e.es.Index.WithDocumentID(strconv.FormatUint(uint64(p.ID), 10)),
			e.es.Index.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("index product %d: %w", p.ID, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("index product %d: %s", p.ID, res.Status())
		}
	}
	return nil
}

// Catalog matches name, description and category with a case-insensitive
// substring filter.
type Catalog struct {
	DB *gorm.DB
}

func (c *Catalog) Search(ctx context.Context, q string, from, size int) (Results, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Results{Items: []models.Product{}}, nil
	}
	pattern := "%" + strings.ToLower(q) + "%"
	tx := c.DB.WithContext(ctx).Model(&models.Product{}).
		Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(category) LIKE ?", pattern, pattern, pattern)

	var out Results
	if err := tx.Count(&out.Total).Error; err != nil {
		return Results{}, err
	}
	out.Items = make([]models.Product, 0, size)
	if err := tx.Order("name").Offset(from).Limit(size).Find(&out.Items).Error; err != nil {
		return Results{}, err
	}
	return out, nil
}
