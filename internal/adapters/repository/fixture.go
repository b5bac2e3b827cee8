package repository

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
)

// Catalog is the on-disk shape of an item pool with its relationship graph.
//
//	items:
//	  - id: margherita
//	    tags: [pizza, vegetarian]
//	edges:
//	  - {from: margherita, to: marinara, weight: 0.5}
type Catalog struct {
	Items []model.Item `yaml:"items"`
	Edges []model.Edge `yaml:"edges"`
}

// DecodeCatalog reads a YAML catalog. Unknown fields are rejected and an
// empty document yields an empty catalog.
func DecodeCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return c, nil
}

// ReadCatalogFile decodes the YAML catalog at path.
func ReadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeCatalog(f)
}

// LoadCatalog decodes a YAML catalog from r into the store.
func (s *MemoryStore) LoadCatalog(r io.Reader) error {
	c, err := DecodeCatalog(r)
	if err != nil {
		return err
	}
	return s.ImportCatalog(c)
}

// ImportCatalog adds every item and edge of c, replacing existing ones.
func (s *MemoryStore) ImportCatalog(c Catalog) error {
	for _, it := range c.Items {
		if err := s.PutItem(it); err != nil {
			return fmt.Errorf("catalog item: %w", err)
		}
	}
	for _, e := range c.Edges {
		if err := s.PutEdge(e); err != nil {
			return fmt.Errorf("catalog edge %s->%s: %w", e.From, e.To, err)
		}
	}
	s.log.Info(context.Background(), "catalog loaded",
		logger.Int("items", len(c.Items)),
		logger.Int("edges", len(c.Edges)),
	)
	return nil
}

// LoadCatalogFile reads a YAML catalog file into the store.
func (s *MemoryStore) LoadCatalogFile(path string) error {
	c, err := ReadCatalogFile(path)
	if err != nil {
		return err
	}
	return s.ImportCatalog(c)
}

// ImportCatalog upserts every item and edge of c in one transaction.
func (s *SQLStore) ImportCatalog(ctx context.Context, c Catalog) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, it := range c.Items {
			if err := s.putItem(ctx, tx, it); err != nil {
				return fmt.Errorf("catalog item %s: %w", it.ID, err)
			}
		}
		for _, e := range c.Edges {
			if err := s.putEdge(ctx, tx, e); err != nil {
				return fmt.Errorf("catalog edge %s->%s: %w", e.From, e.To, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info(ctx, "catalog imported",
		logger.String("driver", s.driver),
		logger.Int("items", len(c.Items)),
		logger.Int("edges", len(c.Edges)),
	)
	return nil
}
