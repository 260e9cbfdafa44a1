package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/config"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/database"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/startup"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/vote"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/token"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// SeedFile 是 -task=seed 读取的 YAML 文件结构
type SeedFile struct {
	MCs []struct {
		Name string `yaml:"name"`
	} `yaml:"mcs"`
}

func loadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取种子文件 %s: %w", path, err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("解析种子文件失败: %w", err)
	}
	return &seed, nil
}

// seedMCs 创建种子文件中尚不存在的MC，已存在的同名MC会被跳过
func seedMCs(ctx context.Context, db *gorm.DB, svc *vote.Service, path string) error {
	seed, err := loadSeedFile(path)
	if err != nil {
		return err
	}
	created, skipped := 0, 0
	for _, entry := range seed.MCs {
		_, err := mc.Create(ctx, db, entry.Name, svc.EmptyAggregate())
		switch {
		case err == nil:
			created++
		case errors.Is(err, mc.ErrDuplicateName):
			skipped++
		default:
			return err
		}
	}
	fmt.Printf("种子数据导入完成！新建 %d 个MC，跳过 %d 个已存在的MC。\n", created, skipped)
	return nil
}

func issueToken(cfg *config.Config, userID, role string) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("未配置 auth.jwtSecret，签发的令牌无法被服务器验证")
	}
	issuer, err := token.NewIssuer(token.DecodeSecret(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	t, err := issuer.Issue(userID, role)
	if err != nil {
		return err
	}
	fmt.Println(t)
	return nil
}

// openRankingCache 连接服务器使用的Redis，维护任务结束后据此清空排行榜缓存。
// Redis 未启用或无法连接时返回 nil，服务器上的缓存会在 pageTTL 内过期。
func openRankingCache(ctx context.Context, cfg *config.Config) (*vote.RankingCache, func()) {
	rdb, err := database.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		fmt.Fprintf(os.Stderr, "警告: %v；服务器上的排行榜缓存将在 %s 内过期\n", err, cfg.Redis.PageTTL)
		return nil, func() {}
	}
	if rdb == nil {
		return nil, func() {}
	}
	cache := vote.NewRankingCache(rdb, nil, cfg.Redis.PageTTL, nil, logger.Named("admin"))
	return cache, func() { _ = rdb.Close() }
}

// flushRankingCache 删除所有已缓存的排行榜分页
func flushRankingCache(ctx context.Context, cache *vote.RankingCache) error {
	if cache == nil {
		return nil
	}
	if err := cache.Flush(ctx); err != nil {
		return fmt.Errorf("清空排行榜缓存失败: %w", err)
	}
	fmt.Println("已清空排行榜缓存。")
	return nil
}

func run(task, seedPath, userID, role string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return err
	}

	switch task {
	case "token":
		return issueToken(cfg, userID, role)
	case "secret":
		key, err := token.GenerateSecretKey()
		if err != nil {
			return err
		}
		fmt.Println(token.EncodeSecret(key))
		return nil
	}

	ctx := context.Background()
	db, err := database.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)

	cache, closeCache := openRankingCache(ctx, cfg)
	defer closeCache()

	svc := vote.NewService(db,
		vote.WithRankingConfig(cfg.Ranking),
		vote.WithCache(cache),
		vote.WithLogger(logger.Named("admin")),
	)
	if err := startup.MigrateAll(db); err != nil {
		return err
	}

	switch task {
	case "seed":
		if err := seedMCs(ctx, db, svc, seedPath); err != nil {
			return err
		}
	case "rebuild":
		n, err := svc.Rebuild(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("重算完成！共重算 %d 个MC的聚合结果。\n", n)
	case "reset":
		result, err := svc.Reset(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("重置完成！删除了 %d 张投票，重置了 %d 个MC。\n", result.VotesDeleted, result.MCsReset)
	default:
		return fmt.Errorf("未知的任务: %s", task)
	}
	return flushRankingCache(ctx, cache)
}

func main() {
	task := flag.String("task", "", "要执行的任务: 'seed' | 'rebuild' | 'reset' | 'token' | 'secret'")
	seedPath := flag.String("seed", "config/seed.yaml", "seed 任务读取的 YAML 文件")
	userID := flag.String("user", "", "token 任务签发令牌的用户ID")
	role := flag.String("role", "", "token 任务签发令牌的角色，管理员为 'admin'")
	flag.Parse()

	if err := run(*task, *seedPath, *userID, *role); err != nil {
		fmt.Fprintln(os.Stderr, "执行失败:", err)
		fmt.Fprintln(os.Stderr, "可用任务: 'seed', 'rebuild', 'reset', 'token', 'secret'")
		os.Exit(1)
	}
}
