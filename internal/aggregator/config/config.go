package config

import "time"

type Config struct {
	// время на ответ одного поставщика
	ProviderTimeout time.Duration
	// время на один запрос опроса
	PollTimeout time.Duration
	// направления "ORIGIN-DEST", по которым асинхронные поставщики отвечают быстро
	FastLanes []string
	Fast      Policy
	Slow      Policy
}

type Policy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}
