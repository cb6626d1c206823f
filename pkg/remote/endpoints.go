package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/docketworks/docketsync/pkg/logger"
)

// ListCollections pages through the collection list for a workspace.
// Archived collections are filtered server-side with a client-side
// safety net.
func (c *Client) ListCollections(ctx context.Context, scope string) ([]Collection, error) {
	var out []Collection
	offset := 0
	for {
		query := url.Values{
			"offset":   {strconv.Itoa(offset)},
			"archived": {"false"},
		}
		body, err := c.authenticatedRequest(ctx, fmt.Sprintf("/workspaces/%s/collections", scope), query)
		if err != nil {
			return nil, fmt.Errorf("failed to list collections: %w", err)
		}

		var page collectionsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode collections page: %w", err)
		}

		for _, col := range page.Collections {
			if col.Archived {
				continue
			}
			out = append(out, col)
		}

		offset += len(page.Collections)
		if page.LastPage || len(page.Collections) == 0 {
			break
		}
	}
	return out, nil
}

// ListItems pages through the items of one collection. When
// modifiedSince is non-nil only items modified after it are returned
// (incremental sync).
func (c *Client) ListItems(ctx context.Context, collectionID string, modifiedSince *time.Time) ([]Item, error) {
	var out []Item
	offset := 0
	for {
		query := url.Values{
			"offset":         {strconv.Itoa(offset)},
			"include_closed": {"true"},
		}
		if modifiedSince != nil {
			query.Set("modified_since", strconv.FormatInt(modifiedSince.UnixMilli(), 10))
		}
		body, err := c.authenticatedRequest(ctx, fmt.Sprintf("/collections/%s/items", collectionID), query)
		if err != nil {
			return nil, fmt.Errorf("failed to list items for collection %s: %w", collectionID, err)
		}

		var page itemsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode items page: %w", err)
		}
		items, err := parseItems(page.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)

		offset += len(page.Items)
		if page.LastPage || len(page.Items) == 0 {
			break
		}
	}
	return out, nil
}

// SearchItems runs the workspace-wide modified-since search. The
// endpoint is premium-gated: plan errors surface as
// ErrFeatureUnavailable so callers fall back to per-collection listing.
func (c *Client) SearchItems(ctx context.Context, scope string, modifiedSince time.Time) ([]Item, error) {
	var out []Item
	offset := 0
	for {
		query := url.Values{
			"offset":         {strconv.Itoa(offset)},
			"include_closed": {"true"},
			"modified_since": {strconv.FormatInt(modifiedSince.UnixMilli(), 10)},
		}
		body, err := c.authenticatedRequest(ctx, fmt.Sprintf("/workspaces/%s/items/search", scope), query)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) &&
				(httpErr.StatusCode == http.StatusForbidden || httpErr.StatusCode == http.StatusPaymentRequired) {
				return nil, fmt.Errorf("%w: %v", ErrFeatureUnavailable, err)
			}
			return nil, fmt.Errorf("workspace search failed: %w", err)
		}

		var page itemsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode search page: %w", err)
		}
		items, err := parseItems(page.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)

		offset += len(page.Items)
		if page.LastPage || len(page.Items) == 0 {
			break
		}
	}
	return out, nil
}

// GetItem fetches a single item by id. Used to resolve orphan parents
// that were not part of the main fan-out.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	body, err := c.authenticatedRequest(ctx, fmt.Sprintf("/items/%s", itemID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", itemID, err)
	}

	var it Item
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemID, err)
	}
	it.Raw = body
	return &it, nil
}

// ListSubItems fetches the direct children of an item.
func (c *Client) ListSubItems(ctx context.Context, itemID string) ([]Item, error) {
	body, err := c.authenticatedRequest(ctx, fmt.Sprintf("/items/%s/subitems", itemID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list subitems of %s: %w", itemID, err)
	}

	var page itemsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode subitems: %w", err)
	}
	items, err := parseItems(page.Items)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		logger.Debugf("Fetched %d subitems for item %s", len(items), itemID)
	}
	return items, nil
}
