// Package scryfall looks up card printings in the Scryfall catalog.
package scryfall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"example.com/mtg_board_viewer/internal/memo"
	apperrors "example.com/mtg_board_viewer/internal/platform/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the public catalog API.
const DefaultBaseURL = "https://api.scryfall.com"

const defaultUserAgent = "mtg-board-viewer/1.0"

type setNumber struct {
	Set    string
	Number string
}

// Client issues catalog queries. Each lookup is memoized per argument for
// the lifetime of the Client; returned slices are shared and must not be
// modified.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	tracer    trace.Tracer

	named     *memo.Cache[string, CardSummary]
	setNumber *memo.Cache[setNumber, string]
	search    *memo.Cache[string, []Printing]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for catalog requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUserAgent overrides the User-Agent header sent to the catalog.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a catalog client for baseURL, or DefaultBaseURL when
// baseURL is blank.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   baseURL,
		http:      http.DefaultClient,
		userAgent: defaultUserAgent,
		tracer:    otel.Tracer("example.com/mtg_board_viewer/internal/scryfall"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.named = memo.New(c.findPrinting)
	c.setNumber = memo.New(func(ctx context.Context, arg setNumber) (string, error) {
		return c.findPrintingBySetAndNumber(ctx, arg.Set, arg.Number)
	})
	c.search = memo.New(c.searchAllPrintings)
	return c
}

// FindPrinting returns the main printing of the card named exactName. Only
// the front face of a multi-faced name is queried.
func (c *Client) FindPrinting(ctx context.Context, exactName string) (CardSummary, error) {
	return c.named.Call(ctx, exactName)
}

// FindPrintingBySetAndNumber returns the image of one specific printing.
func (c *Client) FindPrintingBySetAndNumber(ctx context.Context, setCode, collectorNumber string) (string, error) {
	return c.setNumber.Call(ctx, setNumber{Set: setCode, Number: collectorNumber})
}

// SearchAllPrintings returns the candidate printings of the card named
// exactName, most expensive first. Full-art printings are preferred; when
// there are none the unconstrained result is returned. Printings carrying
// a flavor name are never included.
func (c *Client) SearchAllPrintings(ctx context.Context, exactName string) ([]Printing, error) {
	return c.search.Call(ctx, exactName)
}

func (c *Client) findPrinting(ctx context.Context, exactName string) (CardSummary, error) {
	q := url.Values{}
	q.Set("exact", FrontFace(exactName))

	var card cardJSON
	if err := c.get(ctx, "/cards/named", q, &card); err != nil {
		return CardSummary{}, fmt.Errorf("find printing %q: %w", exactName, err)
	}
	return CardSummary{CMC: card.CMC, ImageURL: card.image()}, nil
}

func (c *Client) findPrintingBySetAndNumber(ctx context.Context, setCode, collectorNumber string) (string, error) {
	path := "/cards/" + url.PathEscape(strings.ToLower(strings.TrimSpace(setCode))) +
		"/" + url.PathEscape(strings.TrimSpace(collectorNumber))

	var card cardJSON
	if err := c.get(ctx, path, nil, &card); err != nil {
		return "", fmt.Errorf("find printing %s/%s: %w", setCode, collectorNumber, err)
	}
	return card.image(), nil
}

func (c *Client) searchAllPrintings(ctx context.Context, exactName string) ([]Printing, error) {
	exact := exactTerm(FrontFace(exactName))

	var (
		fullArt, all       []Printing
		fullArtErr, allErr error
		g                  errgroup.Group
	)
	g.Go(func() error {
		fullArt, fullArtErr = c.searchPrintings(ctx, exact+" is:full")
		return nil
	})
	g.Go(func() error {
		all, allErr = c.searchPrintings(ctx, exact)
		return nil
	})
	_ = g.Wait()

	switch {
	case fullArtErr == nil && len(fullArt) > 0:
		return fullArt, nil
	case fullArtErr != nil && !errors.Is(fullArtErr, apperrors.ErrNotFound):
		return nil, fmt.Errorf("search printings %q: %w", exactName, fullArtErr)
	case allErr != nil:
		return nil, fmt.Errorf("search printings %q: %w", exactName, allErr)
	}
	return all, nil
}

func (c *Client) searchPrintings(ctx context.Context, query string) ([]Printing, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("unique", "prints")
	q.Set("include_extras", "true")
	q.Set("order", "usd")
	q.Set("dir", "desc")

	var list listJSON
	if err := c.get(ctx, "/cards/search", q, &list); err != nil {
		return nil, err
	}
	printings := make([]Printing, 0, len(list.Data))
	for _, card := range list.Data {
		if card.FlavorName != "" {
			continue
		}
		printings = append(printings, card.printing())
	}
	return printings, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "scryfall GET "+spanRoute(path))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "build catalog request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "catalog request", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.Wrap(apperrors.CodeNotFound, "catalog lookup", fmt.Errorf("catalog returned %s", resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return apperrors.Wrap(apperrors.CodeUnavailable, "catalog lookup", fmt.Errorf("catalog returned %s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "decode catalog response", err)
	}
	return nil
}

// exactTerm builds an exact-name search term, escaping backslashes and
// quotes inside the name.
func exactTerm(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	name = strings.ReplaceAll(name, `"`, `\"`)
	return `!"` + name + `"`
}

// spanRoute keeps span names low-cardinality.
func spanRoute(path string) string {
	switch {
	case path == "/cards/named", path == "/cards/search":
		return path
	case strings.HasPrefix(path, "/cards/"):
		return "/cards/{set}/{number}"
	}
	return path
}
