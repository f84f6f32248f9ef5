package news

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"trading-hub/src/helpers"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/models"
)

// maxSeen bounds the id set used to filter repeated headlines.
const maxSeen = 1000

// NewsFeedSource polls a JSON news feed (Alpaca news format) and returns only
// headlines it has not returned before.
type NewsFeedSource struct {
	Config  *models.MConfig
	Network interfaces.INetworkManager
	Logger  *logger.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	seenList []string
}

// -----------------------------------------------------------------------------

func NewNewsFeedSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *NewsFeedSource {
	return &NewsFeedSource{
		Config:  cfg,
		Network: netMgr,
		Logger:  log,
		seen:    make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------

type feedResponse struct {
	News []struct {
		ID        json.Number `json:"id"`
		Headline  string      `json:"headline"`
		Summary   string      `json:"summary"`
		Source    string      `json:"source"`
		URL       string      `json:"url"`
		Symbols   []string    `json:"symbols"`
		CreatedAt time.Time   `json:"created_at"`
	} `json:"news"`
}

// -----------------------------------------------------------------------------

// FetchLatestNews returns unseen headlines, newest first. An empty result is
// not an error.
func (s *NewsFeedSource) FetchLatestNews(ctx context.Context) ([]models.MNewsItem, error) {
	params := map[string]string{
		"limit": strconv.Itoa(s.Config.News.Limit),
		"sort":  "desc",
	}
	if len(s.Config.Market.Symbols) > 0 {
		params["symbols"] = strings.Join(s.Config.Market.Symbols, ",")
	}
	headers := map[string]string{
		"APCA-API-KEY-ID":     s.Config.Brokerage.APIKey,
		"APCA-API-SECRET-KEY": s.Config.Brokerage.APISecret,
	}
	if s.Config.News.APIKey != "" {
		headers["Authorization"] = "Bearer " + s.Config.News.APIKey
	}

	body, err := s.Network.Get(ctx, s.Config.News.FeedURL, params, headers)
	if err != nil {
		return nil, helpers.NewCollaboratorError("news feed request failed", err)
	}

	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, helpers.NewCollaboratorError("invalid news feed response", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.MNewsItem, 0, len(resp.News))
	for _, n := range resp.News {
		id := n.ID.String()
		if id == "" || n.Headline == "" {
			continue
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.remember(id)
		items = append(items, models.MNewsItem{
			ID:          id,
			Headline:    n.Headline,
			Summary:     n.Summary,
			Source:      n.Source,
			URL:         n.URL,
			Symbols:     n.Symbols,
			PublishedAt: n.CreatedAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})

	if len(items) > 0 {
		s.Logger.Debug("News feed returned %d new headlines", len(items))
	}
	return items, nil
}

// -----------------------------------------------------------------------------

func (s *NewsFeedSource) remember(id string) {
	s.seen[id] = struct{}{}
	s.seenList = append(s.seenList, id)
	if len(s.seenList) > maxSeen {
		oldest := s.seenList[0]
		s.seenList = s.seenList[1:]
		delete(s.seen, oldest)
	}
}
