package config

type Config struct {
	LogLevel string
	// пути с секретом в последнем сегменте, например "/api/carrier/quotes/"
	MaskedPaths []string
}
