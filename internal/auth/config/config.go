package config

type Config struct {
	// ключ подписи JWT
	Secret string
}
