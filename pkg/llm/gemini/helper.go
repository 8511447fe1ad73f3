package gemini

import (
	"context"
	"errors"
	"math/rand"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"skytour/pkg/llm"
)

// contentConfig returns the generation config for the given intent.
func (c *Client) contentConfig(intent string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if intent == llm.IntentNarration && c.temperatureBase > 0 {
		temp := sampleTemperature(c.temperatureBase, c.temperatureJitter)
		cfg.Temperature = &temp
	}

	return cfg
}

// sampleTemperature samples from a normal distribution centered on base with
// σ = jitter/2, clamped to [base-jitter, base+jitter] and at least 0.1.
func sampleTemperature(base, jitter float32) float32 {
	if jitter <= 0 {
		return base
	}

	sigma := float64(jitter) / 2.0
	sample := float64(base) + rand.NormFloat64()*sigma

	minTemp := float64(base) - float64(jitter)
	maxTemp := float64(base) + float64(jitter)
	if sample < minTemp {
		sample = minTemp
	}
	if sample > maxTemp {
		sample = maxTemp
	}
	if sample < 0.1 {
		sample = 0.1
	}

	return float32(sample)
}

// modelIterator walks genai model pages with the iterator.Done convention.
type modelIterator struct {
	ctx  context.Context
	page genai.Page[genai.Model]
	idx  int
	done bool
	next func(context.Context, genai.Page[genai.Model]) (genai.Page[genai.Model], error)
}

func newModelIterator(ctx context.Context, first genai.Page[genai.Model]) *modelIterator {
	return &modelIterator{
		ctx:  ctx,
		page: first,
		next: func(ctx context.Context, p genai.Page[genai.Model]) (genai.Page[genai.Model], error) {
			return p.Next(ctx)
		},
	}
}

// Next returns the next model, or iterator.Done once every page is consumed.
func (it *modelIterator) Next() (*genai.Model, error) {
	for it.idx >= len(it.page.Items) {
		if it.done {
			return nil, iterator.Done
		}
		p, err := it.next(it.ctx, it.page)
		if errors.Is(err, genai.ErrPageDone) {
			it.done = true
			return nil, iterator.Done
		}
		if err != nil {
			return nil, err
		}
		it.page, it.idx = p, 0
	}
	m := it.page.Items[it.idx]
	it.idx++
	return m, nil
}
