package config

// DefaultKeywords are the title/summary terms that mark an announcement as
// award news.
var DefaultKeywords = []string{
	"賀", "恭賀", "恭喜", "獲獎", "獲得", "榮獲", "榮膺", "當選", "獲選", "入選",
	"得獎", "第一", "冠軍", "亞軍", "優等", "特優", "佳作", "優勝", "表揚", "殊榮",
	"榮譽", "最佳", "傑出", "優秀", "award", "prize", "winner",
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Store: StoreConfig{
			DBPath: "~/.awardbot/records.db",
		},
		Detector: DetectorConfig{
			IntervalMinutes: 30,
		},
		Source: SourceConfig{
			URL:              "https://ai.nycu.edu.tw/category/hot-news/",
			BaseURL:          "https://ai.nycu.edu.tw",
			UserAgent:        "Mozilla/5.0 (compatible; awardbot/1.0)",
			TimeoutSeconds:   30,
			MaxArticles:      10,
			Keywords:         append([]string(nil), DefaultKeywords...),
			MinSummaryLength: 50,
			MaxContentLength: 1000,
		},
		Content: ContentConfig{
			Provider:       "ollama",
			Languages:      []string{"zh", "en"},
			TimeoutSeconds: 180,
			Temperature:    0.7,
			MaxTokens:      2000,
			Ollama: OllamaConfig{
				APIBase: "http://localhost:11434",
				Model:   "deepseek-r1:7b",
			},
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
		},
		Dispatch: DispatchConfig{
			MaxConcurrentRuns:     2,
			ContentTimeoutSeconds: 240,
			PublishTimeoutSeconds: 120,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Platforms: PlatformsConfig{
			Twitter: TwitterConfig{
				// one post per 15 minutes
				PlatformCommon: PlatformCommon{RatePerMinute: 1.0 / 15},
			},
			Reddit: RedditConfig{
				UserAgent: "awardbot/1.0",
				Subreddit: "nycu",
			},
			Telegram: TelegramConfig{
				ParseMode: "HTML",
			},
		},
	}
}
