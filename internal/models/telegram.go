package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a provisioning notification.
type TelegramMessage struct {
	Success   bool
	Host      string
	Username  string
	StartTime time.Time
	Duration  time.Duration

	StepsRun int
	Warnings []string // advisory step failures

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
