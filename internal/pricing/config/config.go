package config

type Config struct {
	// наценка в процентах, если ни одно правило не подошло
	DefaultPercentage float64
}
