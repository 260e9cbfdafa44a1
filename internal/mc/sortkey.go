package mc

import (
	"errors"
	"fmt"
)

// SortKey 是排行榜可用的排序维度
type SortKey string

const (
	SortTotal      SortKey = "total"
	SortRhyme      SortKey = "rhyme"
	SortVibes      SortKey = "vibes"
	SortFlow       SortKey = "flow"
	SortDialogue   SortKey = "dialogue"
	SortMusicality SortKey = "musicality"
)

// ErrUnknownSortKey 表示无法识别的排序维度
var ErrUnknownSortKey = errors.New("未知的排序维度")

var sortColumns = map[SortKey]string{
	SortTotal:      "total_score",
	SortRhyme:      "rhyme_score",
	SortVibes:      "vibes_score",
	SortFlow:       "flow_score",
	SortDialogue:   "dialogue_score",
	SortMusicality: "musicality_score",
}

// SortKeys 按固定顺序返回全部排序维度
func SortKeys() []SortKey {
	return []SortKey{SortTotal, SortRhyme, SortVibes, SortFlow, SortDialogue, SortMusicality}
}

// ParseSortKey 解析排序维度，空字符串视为 total
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortTotal, nil
	}
	k := SortKey(s)
	if _, ok := sortColumns[k]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSortKey, s)
	}
	return k, nil
}

// Column 返回排序维度对应的平滑分数列
func (k SortKey) Column() string {
	return sortColumns[k]
}

// Score 返回聚合结果中与排序维度对应的平滑分数
func (a Aggregate) Score(k SortKey) float64 {
	switch k {
	case SortRhyme:
		return a.RhymeScore
	case SortVibes:
		return a.VibesScore
	case SortFlow:
		return a.FlowScore
	case SortDialogue:
		return a.DialogueScore
	case SortMusicality:
		return a.MusicalityScore
	default:
		return a.TotalScore
	}
}
