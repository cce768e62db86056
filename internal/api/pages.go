package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/router"
)

// FetchPage fetches one page of a parent's items. cursor starts at FirstPage.
// Items come back ordered newest first; nothing is deduplicated across pages.
func (c *Client) FetchPage(ctx context.Context, res model.Resource, parentID string, cursor int) (*model.Page, error) {
	if cursor < FirstPage {
		return nil, fmt.Errorf("invalid page cursor %d", cursor)
	}

	op := fmt.Sprintf("fetch %s/%s page %d", res.Name, parentID, cursor)
	query := url.Values{}
	query.Set("page", strconv.Itoa(cursor))

	body, err := c.doWithRetry(ctx, op, http.MethodGet, listPath(res, parentID), query, nil)
	if err != nil {
		return nil, err
	}

	items, err := router.DecodeList(res, body)
	if err != nil {
		return nil, &NetworkError{Op: op, StatusCode: http.StatusOK, Err: err}
	}
	slices.SortFunc(items, model.Compare)

	return &model.Page{
		Resource: res.Name,
		ParentID: parentID,
		Cursor:   cursor,
		Items:    items,
		Last:     len(items) < c.pageSize,
	}, nil
}

// FetchAll walks every page of a parent. Uses DefaultPaginationTimeout if the
// context has no deadline.
func (c *Client) FetchAll(ctx context.Context, res model.Resource, parentID string) ([]model.Page, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultPaginationTimeout)
		defer cancel()
	}

	var pages []model.Page
	cursor := FirstPage

	for {
		page, err := c.FetchPage(ctx, res, parentID, cursor)
		if err != nil {
			return nil, err
		}

		pages = append(pages, *page)

		if page.Last {
			break
		}
		cursor = page.Next()
	}

	return pages, nil
}

func listPath(res model.Resource, parentID string) string {
	return "/api/v1/" + res.Name + "/" + url.PathEscape(parentID)
}
