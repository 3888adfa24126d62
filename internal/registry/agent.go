package registry

import (
	"math"
	"strings"
)

// 目录项字段长度上限。
const (
	MaxAgentIDLen     = 32
	MaxMetadataCIDLen = 64
	MaxRating         = 500
)

// MaxAmount 是金额字段的上限，SQL 后端以有符号 64 位整数保存金额。
const MaxAmount uint64 = math.MaxInt64

// MaxPrice 保证报价加上 5% 手续费仍不超过 MaxAmount。
const MaxPrice = MaxAmount / 21 * 20

// Category 表示 agent 的业务分类。
type Category string

const (
	CategoryAI         Category = "ai"
	CategoryIoT        Category = "iot"
	CategoryAutomation Category = "automation"
	CategoryUtility    Category = "utility"
	CategoryTrading    Category = "trading"
	CategoryNFT        Category = "nft"
)

// ParseCategory 解析大小写不敏感的分类名。
func ParseCategory(raw string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryAI, CategoryIoT, CategoryAutomation, CategoryUtility, CategoryTrading, CategoryNFT:
		return c, true
	default:
		return "", false
	}
}

// Agent 是市场中可付费执行的目录项。
type Agent struct {
	AgentID     string   `json:"agent_id"`
	Owner       string   `json:"owner"`
	MetadataCID string   `json:"metadata_cid"`
	Price       uint64   `json:"price"`
	Category    Category `json:"category"`
	TotalRuns   uint64   `json:"total_runs"`
	TotalEarned uint64   `json:"total_earned"`
	Rating      uint16   `json:"rating"`
	RatingCount uint32   `json:"rating_count"`
	IsActive    bool     `json:"is_active"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

func (a *Agent) clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
