package config

type Config struct {
	// валюта, в которой хранятся все суммы
	BaseCurrency string
}
