package mc

import "time"

// MC 定义了数据库中 MC (被排名对象) 的数据结构
type MC struct {
	ID uint `gorm:"primarykey" json:"id"`

	// Name 是 MC 的显示名，例如 "R-指定"，全局唯一
	Name string `gorm:"uniqueIndex;not null;size:100" json:"name"`

	// --- 以下是由投票折叠出的聚合字段，只由投票流程写入 ---
	Aggregate `gorm:"embedded"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 固定表名
func (MC) TableName() string {
	return "mcs"
}

// Aggregate 是某个MC全部投票的聚合结果。
// 它只是投票表的缓存，任何时候都必须等于从全部投票重新计算的结果。
type Aggregate struct {
	RhymeRaw        float64 `gorm:"column:rhyme_raw;not null;default:0" json:"rhymeRaw"`
	RhymeScore      float64 `gorm:"column:rhyme_score;not null;default:0;index" json:"rhymeScore"`
	VibesRaw        float64 `gorm:"column:vibes_raw;not null;default:0" json:"vibesRaw"`
	VibesScore      float64 `gorm:"column:vibes_score;not null;default:0;index" json:"vibesScore"`
	FlowRaw         float64 `gorm:"column:flow_raw;not null;default:0" json:"flowRaw"`
	FlowScore       float64 `gorm:"column:flow_score;not null;default:0;index" json:"flowScore"`
	DialogueRaw     float64 `gorm:"column:dialogue_raw;not null;default:0" json:"dialogueRaw"`
	DialogueScore   float64 `gorm:"column:dialogue_score;not null;default:0;index" json:"dialogueScore"`
	MusicalityRaw   float64 `gorm:"column:musicality_raw;not null;default:0" json:"musicalityRaw"`
	MusicalityScore float64 `gorm:"column:musicality_score;not null;default:0;index" json:"musicalityScore"`

	// TotalRaw 是五项原始均值之和
	TotalRaw float64 `gorm:"column:total_raw;not null;default:0" json:"totalRaw"`
	// TotalScore 是五项平滑分数之和
	TotalScore float64 `gorm:"column:total_score;not null;default:0;index" json:"totalScore"`

	VoteCount int `gorm:"column:vote_count;not null;default:0" json:"voteCount"`
}

// aggregateColumns 列出聚合字段对应的全部列，写入时必须整体更新
var aggregateColumns = []string{
	"rhyme_raw", "rhyme_score",
	"vibes_raw", "vibes_score",
	"flow_raw", "flow_score",
	"dialogue_raw", "dialogue_score",
	"musicality_raw", "musicality_score",
	"total_raw", "total_score",
	"vote_count",
}
