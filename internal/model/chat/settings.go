package chat

import "fmt"

// SearchType 网页搜索类别。
type SearchType string

const (
	SearchText   SearchType = "text"
	SearchNews   SearchType = "news"
	SearchImages SearchType = "images"
	SearchVideos SearchType = "videos"
)

const (
	MinResultsCount = 1
	MaxResultsCount = 10
)

// SearchSettings 随每次流式发送原样转发给后端的搜索配置。
type SearchSettings struct {
	WebSearchEnabled bool       `json:"webSearchEnabled"`
	SearchType       SearchType `json:"searchType"`
	ShowSummary      bool       `json:"showSummary"`
	ResultsCount     int        `json:"resultsCount"`
}

// DefaultSearchSettings 返回客户端默认的搜索配置。
func DefaultSearchSettings() SearchSettings {
	return SearchSettings{
		WebSearchEnabled: true,
		SearchType:       SearchText,
		ShowSummary:      false,
		ResultsCount:     3,
	}
}

// ParseSearchType 校验并返回搜索类别。
func ParseSearchType(raw string) (SearchType, error) {
	switch t := SearchType(raw); t {
	case SearchText, SearchNews, SearchImages, SearchVideos:
		return t, nil
	default:
		return "", fmt.Errorf("invalid search type %q", raw)
	}
}

// Validate 检查搜索配置是否合法。
func (s SearchSettings) Validate() error {
	if _, err := ParseSearchType(string(s.SearchType)); err != nil {
		return err
	}
	if s.ResultsCount < MinResultsCount || s.ResultsCount > MaxResultsCount {
		return fmt.Errorf("resultsCount %d out of range [%d,%d]", s.ResultsCount, MinResultsCount, MaxResultsCount)
	}
	return nil
}
