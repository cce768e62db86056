package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/router"
)

// CreateItem posts a new comment or chat message and returns the stored row.
// Not retried: the backend does not deduplicate creates.
func (c *Client) CreateItem(ctx context.Context, res model.Resource, parentID string, fields any) (model.Item, error) {
	op := fmt.Sprintf("create %s/%s", res.Name, parentID)

	body, err := json.Marshal(fields)
	if err != nil {
		return model.Item{}, fmt.Errorf("marshal %s body: %w", res.Name, err)
	}

	data, err := c.doRequest(ctx, op, http.MethodPost, listPath(res, parentID), nil, body)
	if err != nil {
		return model.Item{}, err
	}

	item, err := router.DecodeRow(res, data)
	if err != nil {
		return model.Item{}, &NetworkError{Op: op, StatusCode: http.StatusOK, Err: err}
	}
	return item, nil
}

// MarkRead flags a notification as read.
func (c *Client) MarkRead(ctx context.Context, notificationID string) error {
	op := "mark notification " + notificationID + " read"
	path := "/api/v1/" + model.Notifications.Name + "/" + url.PathEscape(notificationID) + "/read"

	if _, err := c.doWithRetry(ctx, op, http.MethodPut, path, nil, []byte("{}")); err != nil {
		return err
	}
	return nil
}
