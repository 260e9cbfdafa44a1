package metadata

// metadata 表中 key 列的取值
const (
	// ResetCountKey 记录排行榜被管理员重置的累计次数
	ResetCountKey = "ranking_reset_count"
	// LastResetAtKey 记录最近一次重置的时间 (RFC3339)
	LastResetAtKey = "ranking_last_reset_at"
	// LastRebuildAtKey 记录最近一次从投票重算聚合分数的时间 (RFC3339)
	LastRebuildAtKey = "ranking_last_rebuild_at"
)
