package scryfall

import (
	"strconv"
	"strings"
)

const faceSeparator = "//"

// Printing is one physical print of a card. Image, Price and FlavorName are
// absent when empty or nil.
type Printing struct {
	Set             string
	SetCode         string
	Image           string
	CollectorNumber string
	Artist          string
	IsFullArt       bool
	HasFoil         bool
	Language        string
	Price           *float64
	FlavorName      string
}

// CardSummary is the main printing of a card as returned by an exact-name
// lookup.
type CardSummary struct {
	CMC      float64
	ImageURL string
}

// FrontFace returns the name of the first face of a multi-faced card, e.g.
// "Fire" for "Fire // Ice".
func FrontFace(name string) string {
	if i := strings.Index(name, faceSeparator); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

type imageURIs struct {
	Normal string `json:"normal"`
}

type cardFace struct {
	ImageURIs *imageURIs `json:"image_uris"`
}

type cardPrices struct {
	USD *string `json:"usd"`
}

// cardJSON mirrors the subset of a catalog card object we read.
type cardJSON struct {
	CMC             float64    `json:"cmc"`
	ImageURIs       *imageURIs `json:"image_uris"`
	CardFaces       []cardFace `json:"card_faces"`
	Set             string     `json:"set"`
	SetName         string     `json:"set_name"`
	CollectorNumber string     `json:"collector_number"`
	Artist          string     `json:"artist"`
	FullArt         bool       `json:"full_art"`
	Foil            bool       `json:"foil"`
	Lang            string     `json:"lang"`
	Prices          cardPrices `json:"prices"`
	FlavorName      string     `json:"flavor_name"`
}

type listJSON struct {
	Object string     `json:"object"`
	Data   []cardJSON `json:"data"`
}

// image returns the normal-size image, falling back to the first face for
// cards that only carry per-face images.
func (c cardJSON) image() string {
	if c.ImageURIs != nil && c.ImageURIs.Normal != "" {
		return c.ImageURIs.Normal
	}
	for _, f := range c.CardFaces {
		if f.ImageURIs != nil && f.ImageURIs.Normal != "" {
			return f.ImageURIs.Normal
		}
	}
	return ""
}

func (c cardJSON) printing() Printing {
	p := Printing{
		Set:             c.SetName,
		SetCode:         c.Set,
		Image:           c.image(),
		CollectorNumber: c.CollectorNumber,
		Artist:          c.Artist,
		IsFullArt:       c.FullArt,
		HasFoil:         c.Foil,
		Language:        c.Lang,
		FlavorName:      c.FlavorName,
	}
	if c.Prices.USD != nil {
		if v, err := strconv.ParseFloat(*c.Prices.USD, 64); err == nil {
			p.Price = &v
		}
	}
	return p
}
