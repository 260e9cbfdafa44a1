package vote

import "time"

// Vote 定义了单次投票记录的数据结构。
// 每个 (MC, 投票者) 只允许一条记录，由唯一索引在存储层保证。
// 不使用软删除，重置后同一投票者可以再次投票。
type Vote struct {
	ID uint `gorm:"primarykey" json:"id"`

	MCID    uint   `gorm:"column:mc_id;not null;uniqueIndex:idx_votes_mc_voter,priority:1" json:"mcId"`
	VoterID string `gorm:"column:voter_id;not null;size:128;uniqueIndex:idx_votes_mc_voter,priority:2;index" json:"voterId"`

	Rhyme      int `gorm:"not null" json:"rhyme"`
	Vibes      int `gorm:"not null" json:"vibes"`
	Flow       int `gorm:"not null" json:"flow"`
	Dialogue   int `gorm:"not null" json:"dialogue"`
	Musicality int `gorm:"not null" json:"musicality"`

	CreatedAt time.Time `json:"createdAt"`
}

// TableName 固定表名
func (Vote) TableName() string {
	return "votes"
}

// Scores 返回这张投票的五维评分
func (v Vote) Scores() Scores {
	return Scores{
		Rhyme:      v.Rhyme,
		Vibes:      v.Vibes,
		Flow:       v.Flow,
		Dialogue:   v.Dialogue,
		Musicality: v.Musicality,
	}
}

func newVote(mcID uint, voterID string, s Scores) Vote {
	return Vote{
		MCID:       mcID,
		VoterID:    voterID,
		Rhyme:      s.Rhyme,
		Vibes:      s.Vibes,
		Flow:       s.Flow,
		Dialogue:   s.Dialogue,
		Musicality: s.Musicality,
	}
}
