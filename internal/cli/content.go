package cli

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"realmindex/internal/index"
	"realmindex/internal/store"
)

// contentFile is the YAML shape of a realm content fixture. Each section
// maps to one entry discriminant.
type contentFile struct {
	Cards []struct {
		URL          string            `yaml:"url"`
		LastModified int64             `yaml:"lastModified"`
		CreatedAt    int64             `yaml:"createdAt"`
		Types        []string          `yaml:"types"`
		Deps         []string          `yaml:"deps"`
		Doc          map[string]any    `yaml:"doc"`
		SearchDoc    map[string]any    `yaml:"searchDoc"`
		IsolatedHTML string            `yaml:"isolatedHtml"`
		EmbeddedHTML map[string]string `yaml:"embeddedHtml"`
		FittedHTML   map[string]string `yaml:"fittedHtml"`
		AtomHTML     string            `yaml:"atomHtml"`
	} `yaml:"cards"`
	Modules []struct {
		URL          string   `yaml:"url"`
		Source       string   `yaml:"source"`
		Transpiled   string   `yaml:"transpiled"`
		LastModified int64    `yaml:"lastModified"`
		Deps         []string `yaml:"deps"`
	} `yaml:"modules"`
	CSS []struct {
		URL          string   `yaml:"url"`
		Source       string   `yaml:"source"`
		LastModified int64    `yaml:"lastModified"`
		Deps         []string `yaml:"deps"`
	} `yaml:"css"`
	Errors []struct {
		URL     string   `yaml:"url"`
		Message string   `yaml:"message"`
		Status  int      `yaml:"status"`
		Deps    []string `yaml:"deps"`
	} `yaml:"errors"`
}

func loadContent(path string) (*contentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	var content contentFile
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse content file %s: %w", path, err)
	}
	return &content, nil
}

// seedRealm indexes a realm's content fixture in one batch and publishes
// it. newGeneration makes it a from-scratch reindex. Returns the realm's
// row count at the published version.
func seedRealm(ctx context.Context, st *store.Store, realmURL string, content *contentFile, newGeneration bool) (int64, error) {
	writer := index.NewWriter(st)
	batch, err := writer.NewBatch(ctx, realmURL)
	if err != nil {
		return 0, err
	}
	if newGeneration {
		if err := batch.MakeNewGeneration(ctx); err != nil {
			return 0, err
		}
	}

	for _, card := range content.Cards {
		err := batch.UpdateEntry(ctx, card.URL, index.InstanceEntry{
			Document:          card.Doc,
			SearchDoc:         card.SearchDoc,
			Types:             card.Types,
			Deps:              card.Deps,
			IsolatedHTML:      card.IsolatedHTML,
			EmbeddedHTML:      card.EmbeddedHTML,
			FittedHTML:        card.FittedHTML,
			AtomHTML:          card.AtomHTML,
			LastModified:      card.LastModified,
			ResourceCreatedAt: card.CreatedAt,
		})
		if err != nil {
			return 0, fmt.Errorf("index card %s: %w", card.URL, err)
		}
	}
	for _, module := range content.Modules {
		err := batch.UpdateEntry(ctx, module.URL, index.ModuleEntry{
			Source:         module.Source,
			TranspiledCode: module.Transpiled,
			LastModified:   module.LastModified,
			Deps:           module.Deps,
		})
		if err != nil {
			return 0, fmt.Errorf("index module %s: %w", module.URL, err)
		}
	}
	for _, sheet := range content.CSS {
		err := batch.UpdateEntry(ctx, sheet.URL, index.CSSEntry{
			Source:       sheet.Source,
			LastModified: sheet.LastModified,
			Deps:         sheet.Deps,
		})
		if err != nil {
			return 0, fmt.Errorf("index css %s: %w", sheet.URL, err)
		}
	}
	for _, failure := range content.Errors {
		err := batch.UpdateEntry(ctx, failure.URL, index.ErrorEntry{
			Error: index.ErrorDoc{
				Message: failure.Message,
				Status:  failure.Status,
				Deps:    failure.Deps,
			},
		})
		if err != nil {
			return 0, fmt.Errorf("index error entry %s: %w", failure.URL, err)
		}
	}
	return batch.Done(ctx)
}
