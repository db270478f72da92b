package config

import "time"

type Config struct {
	// срок действия ссылок одной рассылки
	TokenTTL time.Duration
}
