package config

// RedactedConfig returns a copy of cfg safe for startup logging: every
// credential field holding a value is replaced with "***".
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, secret := range []*string{
		&out.Kalshi.ApiKey,
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
		&out.Server.APIKey,
	} {
		if *secret != "" {
			*secret = "***"
		}
	}
	return out
}
