package metaads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"adsync/internal/models"
	"adsync/internal/service"
	"adsync/internal/watermark"
)

const (
	defaultGraphURL     = "https://graph.facebook.com"
	defaultGraphVersion = "v19.0"
	defaultPageSize     = 200
	// maxPagesPerRun bounds one extraction; the cursor of the first
	// unfetched page is surfaced so a backfill resumes where it stopped.
	maxPagesPerRun = 50
)

// APIError is a Graph API error payload. Code 190 is the OAuth error class.
type APIError struct {
	Status  int
	Code    int
	Subcode int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meta graph API error (%d, code %d): %s", e.Status, e.Code, e.Message)
}

func parseGraphError(status int, body []byte) *APIError {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
			Subcode int    `json:"error_subcode"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return nil
	}
	return &APIError{
		Status:  status,
		Code:    payload.Error.Code,
		Subcode: payload.Error.Subcode,
		Type:    payload.Error.Type,
		Message: payload.Error.Message,
	}
}

// Client reads campaigns, ads, creatives and daily insights from the Meta
// Graph API for one ad account.
type Client struct {
	host       string
	httpClient *http.Client
	version    string
	accountID  string
	pageSize   int
}

type ClientConfig struct {
	BaseURL   string
	Version   string
	AccountID string
	PageSize  int
}

func NewClient(httpClient *http.Client, cfg ClientConfig) *Client {
	host := cfg.BaseURL
	if host == "" {
		host = defaultGraphURL
	}
	version := cfg.Version
	if version == "" {
		version = defaultGraphVersion
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = defaultPageSize
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
		version:    version,
		accountID:  strings.TrimPrefix(cfg.AccountID, "act_"),
		pageSize:   pageSize,
	}
}

func (c *Client) accountPath(edge string) string {
	return fmt.Sprintf("/%s/act_%s/%s", c.version, c.accountID, edge)
}

func (c *Client) doRequest(ctx context.Context, accessToken, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if apiErr := parseGraphError(resp.StatusCode, body); apiErr != nil {
			return nil, apiErr
		}
		return nil, &APIError{Status: resp.StatusCode, Message: string(body)}
	}
	return body, nil
}

// Extract implements the per-entity extraction contract.
func (c *Client) Extract(ctx context.Context, accessToken, entityType string, window watermark.Window) (*service.ExtractResult, error) {
	switch entityType {
	case service.EntityCampaigns:
		return c.extractCampaigns(ctx, accessToken, window)
	case service.EntityAds:
		return c.extractAds(ctx, accessToken, window)
	case service.EntityCreatives:
		return c.extractCreatives(ctx, accessToken, window)
	case service.EntityPerformance:
		return c.extractInsights(ctx, accessToken, window)
	}
	return nil, fmt.Errorf("meta does not support entity type %q", entityType)
}

type graphPage struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// listEdge walks a paginated account edge, filtered on updated_time when the
// window has a lower bound, handing each raw node to collect.
func (c *Client) listEdge(ctx context.Context, accessToken, edge, fields string, window watermark.Window,
	collect func(json.RawMessage)) (*string, error) {
	after := ""
	if window.PageToken != nil {
		after = *window.PageToken
	}
	for page := 0; page < maxPagesPerRun; page++ {
		query := url.Values{}
		query.Set("fields", fields)
		query.Set("limit", strconv.Itoa(c.pageSize))
		if filter := updatedTimeFilter(window); filter != "" {
			query.Set("filtering", filter)
		}
		if after != "" {
			query.Set("after", after)
		}
		body, err := c.doRequest(ctx, accessToken, c.accountPath(edge), query)
		if err != nil {
			return nil, err
		}
		var resp graphPage
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse %s response: %w", edge, err)
		}
		for _, node := range resp.Data {
			collect(node)
		}
		if resp.Paging.Next == "" || resp.Paging.Cursors.After == "" {
			return nil, nil
		}
		after = resp.Paging.Cursors.After
	}
	return &after, nil
}

func updatedTimeFilter(window watermark.Window) string {
	var clauses []string
	if window.ModifiedSince != nil {
		clauses = append(clauses, fmt.Sprintf(
			`{"field":"updated_time","operator":"GREATER_THAN","value":%d}`,
			window.ModifiedSince.UTC().Unix()))
	}
	if window.ModifiedUntil != nil {
		clauses = append(clauses, fmt.Sprintf(
			`{"field":"updated_time","operator":"LESS_THAN","value":%d}`,
			window.ModifiedUntil.UTC().Unix()))
	}
	if len(clauses) == 0 {
		return ""
	}
	return "[" + strings.Join(clauses, ",") + "]"
}

type campaignNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Objective   string `json:"objective"`
	DailyBudget string `json:"daily_budget"`
	UpdatedTime string `json:"updated_time"`
}

func (c *Client) extractCampaigns(ctx context.Context, accessToken string, window watermark.Window) (*service.ExtractResult, error) {
	result := &service.ExtractResult{}
	now := time.Now().UTC()
	resume, err := c.listEdge(ctx, accessToken, "campaigns",
		"id,name,status,objective,daily_budget,updated_time", window,
		func(raw json.RawMessage) {
			var node campaignNode
			if err := json.Unmarshal(raw, &node); err != nil || node.ID == "" {
				return
			}
			campaign := models.Campaign{
				Platform:   models.PlatformMeta,
				CampaignID: node.ID,
				Name:       node.Name,
				Status:     strings.ToLower(node.Status),
				LastSeenAt: now,
				RawJSON:    datatypes.JSON(raw),
			}
			if node.Objective != "" {
				channel := node.Objective
				campaign.Channel = &channel
			}
			// daily_budget arrives in the account currency's minor units.
			if node.DailyBudget != "" {
				if cents, err := decimal.NewFromString(node.DailyBudget); err == nil {
					budget := cents.Shift(-2)
					campaign.DailyBudget = &budget
				}
			}
			if modified := parseGraphTime(node.UpdatedTime); modified != nil {
				campaign.ExternalUpdatedAt = modified
				bumpWatermark(result, *modified)
			}
			result.Campaigns = append(result.Campaigns, campaign)
		})
	if err != nil {
		return nil, err
	}
	result.NextPageToken = resume
	return result, nil
}

type creativeNode struct {
	ID           string `json:"id"`
	ObjectType   string `json:"object_type"`
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Title        string `json:"title"`
	Body         string `json:"body"`
}

type adNode struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      string        `json:"status"`
	CampaignID  string        `json:"campaign_id"`
	AdsetID     string        `json:"adset_id"`
	Creative    *creativeNode `json:"creative"`
	UpdatedTime string        `json:"updated_time"`
}

// extractAds fans each ad's embedded creative out into the creative asset
// collection alongside the ad row itself.
func (c *Client) extractAds(ctx context.Context, accessToken string, window watermark.Window) (*service.ExtractResult, error) {
	result := &service.ExtractResult{}
	now := time.Now().UTC()
	seenCreatives := map[string]bool{}
	resume, err := c.listEdge(ctx, accessToken, "ads",
		"id,name,status,campaign_id,adset_id,creative{id,object_type,image_url,thumbnail_url,title,body},updated_time",
		window,
		func(raw json.RawMessage) {
			var node adNode
			if err := json.Unmarshal(raw, &node); err != nil || node.ID == "" {
				return
			}
			ad := models.Ad{
				Platform:   models.PlatformMeta,
				AdID:       node.ID,
				CampaignID: node.CampaignID,
				Name:       node.Name,
				Status:     strings.ToLower(node.Status),
				LastSeenAt: now,
				RawJSON:    datatypes.JSON(raw),
			}
			if node.AdsetID != "" {
				adsetID := node.AdsetID
				ad.AdGroupID = &adsetID
			}
			if node.Creative != nil && node.Creative.ID != "" {
				creativeID := node.Creative.ID
				ad.CreativeID = &creativeID
				if !seenCreatives[creativeID] {
					seenCreatives[creativeID] = true
					adID := node.ID
					asset := creativeToAsset(*node.Creative, now)
					asset.AdID = &adID
					result.CreativeAssets = append(result.CreativeAssets, asset)
				}
			}
			if modified := parseGraphTime(node.UpdatedTime); modified != nil {
				ad.ExternalUpdatedAt = modified
				bumpWatermark(result, *modified)
			}
			result.Ads = append(result.Ads, ad)
		})
	if err != nil {
		return nil, err
	}
	result.NextPageToken = resume
	return result, nil
}

// extractCreatives lists the account's creative library directly. Creatives
// are immutable in the Graph API, so no watermark advances here; the
// account-level listing exists for full refreshes of the asset table.
func (c *Client) extractCreatives(ctx context.Context, accessToken string, window watermark.Window) (*service.ExtractResult, error) {
	result := &service.ExtractResult{}
	now := time.Now().UTC()
	// The adcreatives edge has no updated_time filter.
	unfiltered := watermark.Window{PageToken: window.PageToken}
	resume, err := c.listEdge(ctx, accessToken, "adcreatives",
		"id,object_type,image_url,thumbnail_url,title,body", unfiltered,
		func(raw json.RawMessage) {
			var node creativeNode
			if err := json.Unmarshal(raw, &node); err != nil || node.ID == "" {
				return
			}
			asset := creativeToAsset(node, now)
			asset.RawJSON = datatypes.JSON(raw)
			result.CreativeAssets = append(result.CreativeAssets, asset)
		})
	if err != nil {
		return nil, err
	}
	result.NextPageToken = resume
	return result, nil
}

func creativeToAsset(node creativeNode, now time.Time) models.CreativeAsset {
	asset := models.CreativeAsset{
		Platform:   models.PlatformMeta,
		AssetID:    node.ID,
		AssetType:  strings.ToLower(node.ObjectType),
		LastSeenAt: now,
	}
	if node.ImageURL != "" {
		u := node.ImageURL
		asset.URL = &u
	}
	if node.ThumbnailURL != "" {
		u := node.ThumbnailURL
		asset.ThumbnailURL = &u
	}
	if node.Title != "" {
		t := node.Title
		asset.Title = &t
	}
	if node.Body != "" {
		b := node.Body
		asset.Body = &b
	}
	if asset.RawJSON == nil {
		if raw, err := json.Marshal(node); err == nil {
			asset.RawJSON = datatypes.JSON(raw)
		}
	}
	return asset
}

type insightAction struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

type insightRow struct {
	DateStart    string          `json:"date_start"`
	CampaignID   string          `json:"campaign_id"`
	AdID         string          `json:"ad_id"`
	Impressions  string          `json:"impressions"`
	Clicks       string          `json:"clicks"`
	Spend        string          `json:"spend"`
	Actions      []insightAction `json:"actions"`
	ActionValues []insightAction `json:"action_values"`
}

// extractInsights pulls daily insight rows at both levels. Insights are
// date-ranged, so the window bounds are collapsed onto whole days.
func (c *Client) extractInsights(ctx context.Context, accessToken string, window watermark.Window) (*service.ExtractResult, error) {
	since, until := insightRange(window, time.Now().UTC())
	result := &service.ExtractResult{}
	for _, level := range []string{models.PerfLevelCampaign, models.PerfLevelAd} {
		rows, err := c.fetchInsights(ctx, accessToken, level, since, until)
		if err != nil {
			return nil, err
		}
		result.Performance = append(result.Performance, rows...)
	}
	return result, nil
}

func (c *Client) fetchInsights(ctx context.Context, accessToken, level string, since, until time.Time) ([]models.AdPerformance, error) {
	fields := "date_start,campaign_id,impressions,clicks,spend,actions,action_values"
	if level == models.PerfLevelAd {
		fields = "date_start,campaign_id,ad_id,impressions,clicks,spend,actions,action_values"
	}
	var out []models.AdPerformance
	now := time.Now().UTC()
	after := ""
	for page := 0; page < maxPagesPerRun; page++ {
		query := url.Values{}
		query.Set("level", level)
		query.Set("fields", fields)
		query.Set("time_increment", "1")
		query.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`,
			since.Format("2006-01-02"), until.Format("2006-01-02")))
		query.Set("limit", strconv.Itoa(c.pageSize))
		if after != "" {
			query.Set("after", after)
		}
		body, err := c.doRequest(ctx, accessToken, c.accountPath("insights"), query)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Data   []insightRow `json:"data"`
			Paging struct {
				Cursors struct {
					After string `json:"after"`
				} `json:"cursors"`
				Next string `json:"next"`
			} `json:"paging"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse insights response: %w", err)
		}
		for _, row := range resp.Data {
			statDate, err := time.ParseInLocation("2006-01-02", row.DateStart, time.UTC)
			if err != nil {
				continue
			}
			entityID := row.CampaignID
			if level == models.PerfLevelAd {
				entityID = row.AdID
			}
			if entityID == "" {
				continue
			}
			out = append(out, models.AdPerformance{
				Platform:        models.PlatformMeta,
				Level:           level,
				EntityID:        entityID,
				StatDate:        statDate,
				CampaignID:      row.CampaignID,
				Impressions:     parseInt(row.Impressions),
				Clicks:          parseInt(row.Clicks),
				Spend:           parseDecimal(row.Spend),
				Conversions:     sumActions(row.Actions),
				ConversionValue: sumActions(row.ActionValues),
				LastSeenAt:      now,
			})
		}
		if resp.Paging.Next == "" || resp.Paging.Cursors.After == "" {
			break
		}
		after = resp.Paging.Cursors.After
	}
	return out, nil
}

func insightRange(window watermark.Window, now time.Time) (time.Time, time.Time) {
	until := now
	if window.ModifiedUntil != nil {
		until = *window.ModifiedUntil
	}
	since := until.AddDate(0, 0, -30)
	if window.ModifiedSince != nil {
		since = *window.ModifiedSince
	}
	return since.UTC().Truncate(24 * time.Hour), until.UTC().Truncate(24 * time.Hour)
}

// sumActions folds the purchase-class action entries into one number.
func sumActions(actions []insightAction) decimal.Decimal {
	total := decimal.Zero
	for _, action := range actions {
		switch action.ActionType {
		case "purchase", "omni_purchase", "offsite_conversion.fb_pixel_purchase":
			total = total.Add(parseDecimal(action.Value))
		}
	}
	return total
}

// parseGraphTime handles the Graph API's ±hhmm offset format alongside
// plain RFC3339.
func parseGraphTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02T15:04:05-0700", value)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return nil
		}
	}
	parsed = parsed.UTC()
	return &parsed
}

func parseInt(value string) int64 {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}

func bumpWatermark(result *service.ExtractResult, modified time.Time) {
	if result.MaxModifiedTime == nil || modified.After(*result.MaxModifiedTime) {
		result.MaxModifiedTime = &modified
	}
}

var _ service.Extractor = (*Client)(nil)
