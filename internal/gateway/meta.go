package gateway

import (
	"context"
	"errors"

	"github.com/persistorai/seovault/internal/models"
)

// ErrGeneratorUnavailable is returned when no meta generator is configured.
var ErrGeneratorUnavailable = errors.New("gateway: meta generator unavailable")

// MetaSuggestion is a generated title and description for a content item.
type MetaSuggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// MetaGenerator produces meta suggestions. apiKey is wiped when Generate
// returns and must not be retained.
type MetaGenerator interface {
	Generate(ctx context.Context, apiKey []byte, c *models.Content) (MetaSuggestion, error)
}

type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, []byte, *models.Content) (MetaSuggestion, error) {
	return MetaSuggestion{}, ErrGeneratorUnavailable
}
