// Package discord implements platform.Adapter over the Discord REST API.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"archive-sync-service/internal/logger"
	"archive-sync-service/internal/platform"
)

const platformName = "discord"

// Guild channel types that carry a message history we archive.
var archivedChannelTypes = map[int]string{
	0:  "text",
	5:  "announcement",
	15: "forum",
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func New(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Platform() string { return platformName }

type apiChannel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	ParentID string `json:"parent_id"`
	Position int    `json:"position"`
}

type apiEmoji struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type apiMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID string `json:"id"`
	} `json:"author"`
	Timestamp        time.Time  `json:"timestamp"`
	EditedTimestamp  *time.Time `json:"edited_timestamp"`
	MessageReference *struct {
		MessageID string `json:"message_id"`
	} `json:"message_reference"`
	Reactions []struct {
		Count int      `json:"count"`
		Emoji apiEmoji `json:"emoji"`
	} `json:"reactions"`
	Attachments []struct {
		ID          string `json:"id"`
		Filename    string `json:"filename"`
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Size        int64  `json:"size"`
	} `json:"attachments"`
}

type apiUser struct {
	ID string `json:"id"`
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

func (c *Client) ListChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	var raw []apiChannel
	if err := c.get(ctx, "/guilds/"+url.PathEscape(guildID)+"/channels", nil, &raw); err != nil {
		return nil, fmt.Errorf("list channels for guild %s: %w", guildID, err)
	}

	channels := make([]platform.Channel, 0, len(raw))
	for _, ch := range raw {
		kind, ok := archivedChannelTypes[ch.Type]
		if !ok {
			continue
		}
		channels = append(channels, platform.Channel{
			PlatformID: ch.ID,
			Name:       ch.Name,
			Type:       kind,
			ParentID:   ch.ParentID,
			Position:   ch.Position,
		})
	}
	return channels, nil
}

func (c *Client) FetchMessages(ctx context.Context, channelID string, opts platform.FetchOptions) (*platform.Page, error) {
	limit := opts.Limit
	if limit <= 0 || limit > platform.MaxPageSize {
		limit = platform.MaxPageSize
	}
	after := opts.AfterMessageID
	if after == "" {
		after = "0"
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("after", after)

	var raw []apiMessage
	if err := c.get(ctx, "/channels/"+url.PathEscape(channelID)+"/messages", q, &raw); err != nil {
		return nil, fmt.Errorf("fetch messages for channel %s: %w", channelID, err)
	}

	// Discord returns newest first.
	sort.Slice(raw, func(i, j int) bool {
		return platform.CompareIDs(raw[i].ID, raw[j].ID) < 0
	})

	page := &platform.Page{
		Messages: make([]platform.Message, 0, len(raw)),
		HasMore:  len(raw) == limit,
	}
	for _, m := range raw {
		msg := platform.Message{
			PlatformID: m.ID,
			AuthorID:   m.Author.ID,
			Content:    m.Content,
			CreatedAt:  m.Timestamp,
			EditedAt:   m.EditedTimestamp,
		}
		if m.MessageReference != nil {
			msg.ReplyToID = m.MessageReference.MessageID
		}
		for _, a := range m.Attachments {
			msg.Attachments = append(msg.Attachments, platform.Attachment{
				PlatformID:  a.ID,
				Filename:    a.Filename,
				URL:         a.URL,
				ContentType: a.ContentType,
				Size:        a.Size,
			})
		}
		for _, r := range m.Reactions {
			users, err := c.reactionUsers(ctx, channelID, m.ID, r.Emoji)
			if err != nil {
				return nil, fmt.Errorf("fetch reactions for message %s: %w", m.ID, err)
			}
			emoji := emojiName(r.Emoji)
			for _, u := range users {
				msg.Reactions = append(msg.Reactions, platform.Reaction{UserID: u, Emoji: emoji})
			}
		}
		page.Messages = append(page.Messages, msg)
	}

	logger.Log.Debug("Fetched discord page",
		zap.String("channel", channelID),
		zap.String("after", after),
		zap.Int("count", len(page.Messages)),
	)

	return page, nil
}

func (c *Client) reactionUsers(ctx context.Context, channelID, messageID string, emoji apiEmoji) ([]string, error) {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s",
		url.PathEscape(channelID), url.PathEscape(messageID), url.PathEscape(emojiParam(emoji)))

	var ids []string
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(platform.MaxPageSize))
		if after != "" {
			q.Set("after", after)
		}
		var users []apiUser
		if err := c.get(ctx, path, q, &users); err != nil {
			return nil, err
		}
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		if len(users) < platform.MaxPageSize {
			return ids, nil
		}
		after = users[len(users)-1].ID
	}
}

func emojiParam(e apiEmoji) string {
	if e.ID != "" {
		return e.Name + ":" + e.ID
	}
	return e.Name
}

func emojiName(e apiEmoji) string {
	if e.ID != "" {
		return "<:" + e.Name + ":" + e.ID + ">"
	}
	return e.Name
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return parseRateLimit(resp.Header, body)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &platform.HTTPError{Platform: platformName, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func parseRateLimit(h http.Header, body []byte) error {
	rl := &platform.RateLimitError{
		Platform: platformName,
		Global:   h.Get("X-RateLimit-Global") == "true",
	}
	var b rateLimitBody
	if json.Unmarshal(body, &b) == nil && b.RetryAfter > 0 {
		rl.RetryAfter = time.Duration(b.RetryAfter * float64(time.Second))
		rl.Global = rl.Global || b.Global
	} else if secs, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil {
		rl.RetryAfter = time.Duration(secs * float64(time.Second))
	}
	return rl
}
