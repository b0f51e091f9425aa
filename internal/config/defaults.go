package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			AssistantName: "Andy",
			LogLevel:      "info",
			LogFormat:     "text",
			DataDir:       "~/.relaybot",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				ParseMode:        "Markdown",
				MaxMessageLength: 4096,
			},
		},
		Transcription: TranscriptionConfig{
			Enabled:        true,
			APIBase:        "https://api.anthropic.com/v1",
			Model:          "whisper",
			UsageModel:     "whisper",
			TimeoutSeconds: 60,
			MaxRetries:     3,
		},
		Store: StoreConfig{
			DBPath: "~/.relaybot/messages.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
