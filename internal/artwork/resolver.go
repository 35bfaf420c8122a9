// Package artwork picks one artwork URL per card name.
//
// A configured override wins outright. Otherwise every candidate printing
// from the catalog is scored and the first printing with the highest score
// is used; see Score.
package artwork

import (
	"context"
	"fmt"
	"log"
	"strings"

	"example.com/mtg_board_viewer/internal/memo"
	apperrors "example.com/mtg_board_viewer/internal/platform/errors"
	"example.com/mtg_board_viewer/internal/scryfall"
)

const (
	fullArtBonus = 20
	englishBonus = 20
)

// Catalog is the subset of the catalog client the resolver needs.
type Catalog interface {
	FindPrintingBySetAndNumber(ctx context.Context, setCode, collectorNumber string) (string, error)
	SearchAllPrintings(ctx context.Context, exactName string) ([]scryfall.Printing, error)
}

// Resolver resolves card names to artwork URLs, memoizing each name.
// Concurrent lookups of one name share a single catalog pipeline.
type Resolver struct {
	catalog    Catalog
	overrides  map[string][]PrintingRef
	artistRank map[string]int
	cache      *memo.Cache[string, string]
	flight     *memo.SingleFlight[string, string]
}

// NewResolver creates a resolver over catalog using prefs.
func NewResolver(catalog Catalog, prefs Preferences) *Resolver {
	r := &Resolver{
		catalog:    catalog,
		overrides:  prefs.Overrides,
		artistRank: make(map[string]int, len(prefs.Artists)),
	}
	for i, artist := range prefs.Artists {
		if _, dup := r.artistRank[artist]; !dup {
			r.artistRank[artist] = i
		}
	}
	r.cache = memo.New(r.resolve)
	r.flight = memo.NewSingleFlight(r.cache.Call)
	return r
}

// Resolve returns the artwork URL for cardName. Failures carry the
// NotFound, Unavailable or Empty codes and are not cached.
func (r *Resolver) Resolve(ctx context.Context, cardName string) (string, error) {
	return r.flight.Call(ctx, cardName)
}

// Image is Resolve for display code: any failure is logged and reported
// as ok == false, in which case the caller shows the bare card name.
func (r *Resolver) Image(ctx context.Context, cardName string) (url string, ok bool) {
	url, err := r.Resolve(ctx, cardName)
	if err != nil {
		log.Printf("artwork: no artwork for %q: %v", cardName, err)
		return "", false
	}
	return url, true
}

func (r *Resolver) resolve(ctx context.Context, cardName string) (string, error) {
	if refs := r.overrides[cardName]; len(refs) > 0 {
		ref := refs[0]
		url, err := r.catalog.FindPrintingBySetAndNumber(ctx, ref.Set, ref.CollectorNumber)
		if err != nil {
			return "", fmt.Errorf("override %s/%s: %w", ref.Set, ref.CollectorNumber, err)
		}
		if strings.TrimSpace(url) == "" {
			return "", noArtwork(cardName, "override printing has no image")
		}
		return url, nil
	}

	printings, err := r.catalog.SearchAllPrintings(ctx, cardName)
	if err != nil {
		return "", err
	}
	best, ok := r.best(printings)
	if !ok {
		return "", noArtwork(cardName, "no candidate printings")
	}
	if best.Image == "" {
		return "", noArtwork(cardName, "top printing has no image")
	}
	return best.Image, nil
}

// best returns the first printing with the highest score.
func (r *Resolver) best(printings []scryfall.Printing) (scryfall.Printing, bool) {
	if len(printings) == 0 {
		return scryfall.Printing{}, false
	}
	top, topScore := printings[0], r.Score(printings[0])
	for _, p := range printings[1:] {
		if s := r.Score(p); s > topScore {
			top, topScore = p, s
		}
	}
	return top, true
}

// Score ranks a printing: the artist's position in the preference list
// (-1 when unlisted), plus 20 for full art, plus 20 for English, plus the
// USD price.
func (r *Resolver) Score(p scryfall.Printing) float64 {
	score := -1.0
	if rank, ok := r.artistRank[p.Artist]; ok {
		score = float64(rank)
	}
	if p.IsFullArt {
		score += fullArtBonus
	}
	if p.Language == "en" {
		score += englishBonus
	}
	if p.Price != nil {
		score += *p.Price
	}
	return score
}

func noArtwork(cardName, reason string) error {
	return apperrors.WithMetadata(apperrors.CodeEmpty, reason, map[string]string{"card": cardName})
}
