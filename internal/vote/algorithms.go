package vote

import "github.com/SlpAus/mcbattle-ranking-backend/internal/mc"

// --- 算法常量 ---

const (
	// DefaultPriorMean 是评分区间 1-20 的中点
	DefaultPriorMean = 10.0
	// DefaultPriorWeight 相当于"虚拟的10票"
	DefaultPriorWeight = 10.0

	categoryCount = 5
)

// Prior 是贝叶斯平滑使用的先验
type Prior struct {
	Mean   float64
	Weight float64
}

// DefaultPrior 返回默认先验 {10, 10}
func DefaultPrior() Prior {
	return Prior{Mean: DefaultPriorMean, Weight: DefaultPriorWeight}
}

// Scores 是一张投票中五个维度的评分
type Scores struct {
	Rhyme      int `json:"rhyme"`
	Vibes      int `json:"vibes"`
	Flow       int `json:"flow"`
	Dialogue   int `json:"dialogue"`
	Musicality int `json:"musicality"`
}

// --- 贝叶斯估计 ---

// BayesianEstimate 将原始均值向先验均值收缩：
// (rawMean*count + prior.Mean*prior.Weight) / (count + prior.Weight)
// count 为 0 时结果恰好是 prior.Mean。不做截断或取整。
func BayesianEstimate(rawMean float64, count int, prior Prior) float64 {
	n := float64(count)
	return (rawMean*n + prior.Mean*prior.Weight) / (n + prior.Weight)
}

// --- 聚合 ---

// Aggregate 把某个MC的全部投票折叠为聚合结果。
// 结果只取决于投票的多重集合，与顺序无关。
func Aggregate(votes []Scores, prior Prior) mc.Aggregate {
	var sums [categoryCount]float64
	for _, v := range votes {
		sums[0] += float64(v.Rhyme)
		sums[1] += float64(v.Vibes)
		sums[2] += float64(v.Flow)
		sums[3] += float64(v.Dialogue)
		sums[4] += float64(v.Musicality)
	}

	n := len(votes)
	var raw, smoothed [categoryCount]float64
	for i := range sums {
		if n > 0 {
			raw[i] = sums[i] / float64(n)
		}
		smoothed[i] = BayesianEstimate(raw[i], n, prior)
	}

	agg := mc.Aggregate{
		RhymeRaw:        raw[0],
		RhymeScore:      smoothed[0],
		VibesRaw:        raw[1],
		VibesScore:      smoothed[1],
		FlowRaw:         raw[2],
		FlowScore:       smoothed[2],
		DialogueRaw:     raw[3],
		DialogueScore:   smoothed[3],
		MusicalityRaw:   raw[4],
		MusicalityScore: smoothed[4],
		VoteCount:       n,
	}
	for i := range raw {
		agg.TotalRaw += raw[i]
		agg.TotalScore += smoothed[i]
	}
	return agg
}

// EmptyAggregate 是零投票时的聚合结果：各维度等于先验均值，总分为其5倍
func EmptyAggregate(prior Prior) mc.Aggregate {
	return Aggregate(nil, prior)
}
